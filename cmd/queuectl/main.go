package main

import (
	"os"
	"queuectl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
