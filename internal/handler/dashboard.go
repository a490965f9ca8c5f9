package handler

import (
	_ "embed"
	"html/template"
	"math"
	"net/http"
	"queuectl/internal/models"
	"time"

	"github.com/gorilla/mux"
)

//go:embed templates/dashboard.html
var dashboardHTML string

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"round": func(v float64, places int) float64 {
		p := math.Pow(10, float64(places))
		return math.Round(v*p) / p
	},
	"timestamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
}).Parse(dashboardHTML))

type dashboardData struct {
	Summary *models.Summary
	Jobs    []*models.Job
	Dead    []*models.DeadLetterEntry
}

// Dashboard handles GET /
func (h *JobHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobService.Metrics(r.Context())
	if err != nil {
		h.writeError(w, "failed to compute metrics", err)
		return
	}
	jobs, err := h.jobService.RecentJobs(r.Context(), RecentLimit)
	if err != nil {
		h.writeError(w, "failed to list jobs", err)
		return
	}
	dead, err := h.jobService.ListDeadLetter(r.Context())
	if err != nil {
		h.writeError(w, "failed to retrieve dead letter store", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, dashboardData{Summary: summary, Jobs: jobs, Dead: dead}); err != nil {
		h.logger.Error("error rendering dashboard", "error", err)
	}
}

// RetryForm handles POST /retry/{id} from the dashboard and redirects back
func (h *JobHandler) RetryForm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.jobService.Retry(r.Context(), id); err != nil {
		h.writeError(w, "failed to retry job", err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
