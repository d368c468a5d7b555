package main

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed templates/*
var templatesFS embed.FS

// Handler handles HTTP requests for the UI.
type Handler struct {
	inspector *Inspector
	templates map[string]*template.Template
}

// NewHandler creates a new Handler.
func NewHandler(inspector *Inspector) (*Handler, error) {
	funcMap := template.FuncMap{
		"add": func(a, b int64) int64 { return a + b },
	}

	pages := []string{"dashboard.html", "queues.html", "workers.html", "failures.html"}
	templates := make(map[string]*template.Template)

	for _, page := range pages {
		tmpl := template.New("base.html").Funcs(funcMap)
		if _, err := tmpl.ParseFS(templatesFS, "templates/base.html", "templates/"+page); err != nil {
			return nil, err
		}
		templates[page] = tmpl
	}

	return &Handler{
		inspector: inspector,
		templates: templates,
	}, nil
}

// RegisterRoutes registers HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleDashboard)
	mux.HandleFunc("/queues", h.handleQueues)
	mux.HandleFunc("/workers", h.handleWorkers)
	mux.HandleFunc("/failures", h.handleFailures)
	mux.HandleFunc("/api/stats", h.handleAPIStats)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	stats, err := h.inspector.GetDashboardStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	queues, _ := h.inspector.GetQueues()
	workers, _ := h.inspector.GetWorkers()

	data := map[string]interface{}{
		"Stats":   stats,
		"Queues":  queues,
		"Workers": workers,
		"Page":    "dashboard",
	}

	h.render(w, "dashboard.html", data)
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.inspector.GetQueues()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Queues": queues,
		"Page":   "queues",
	}

	h.render(w, "queues.html", data)
}

func (h *Handler) handleWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.inspector.GetWorkers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Workers": workers,
		"Page":    "workers",
	}

	h.render(w, "workers.html", data)
}

// handleFailures renders recent failures. Since the Redis key layout
// keeps no index of failed ids, the job ids to look up are passed as
// repeated ?id= query parameters; a real deployment would pair this
// with its own application-level log of recently failed ids.
func (h *Handler) handleFailures(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]

	failures, err := h.inspector.GetFailures(ids)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Failures": failures,
		"Page":     "failures",
	}

	h.render(w, "failures.html", data)
}

func (h *Handler) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inspector.GetDashboardStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_queues":%d,"total_pending":%d,"active_workers":%d,"idle_workers":%d,"processed":%d,"failed":%d}`,
		stats.TotalQueues, stats.TotalPending, stats.ActiveWorkers, stats.IdleWorkers, stats.Processed, stats.Failed)
}

func (h *Handler) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	tmpl, ok := h.templates[name]
	if !ok {
		http.Error(w, "Template not found: "+name, http.StatusInternalServerError)
		return
	}
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
