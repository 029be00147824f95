package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/imagvfx/jobq/service"
)

// logsHandler serves stored log lines as json.
//
//	GET /api/logs?job=sh010&level=SEVERE&limit=100
type logsHandler struct {
	store service.LogService
}

type apiLog struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Job     string `json:"job,omitempty"`
	Task    string `json:"task,omitempty"`
	Message string `json:"message"`
}

func (h *logsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := service.LogFilter{
		Job:   q.Get("job"),
		Task:  q.Get("task"),
		Level: q.Get("level"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			http.Error(w, "invalid limit: "+l, http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	logs, err := h.store.FindLogs(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]apiLog, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, apiLog{
			Time:    l.Time.Format("2006-01-02T15:04:05.000Z07:00"),
			Level:   l.Level,
			Job:     l.Job,
			Task:    l.Task,
			Message: l.Message,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
