package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/cron"
	"github.com/t77yq/agent-scheduler/internal/lock"
	"github.com/t77yq/agent-scheduler/internal/storage"
)

// Server exposes the schedule CRUD surface, execution history, and the
// health check. It is thin plumbing around the stores; no scheduling logic
// lives here.
type Server struct {
	logger     *zap.Logger
	schedules  storage.ScheduleStorage
	executions storage.ExecutionStorage
	locker     lock.Locker
	db         *sql.DB
	resolver   *cron.Resolver
}

// NewServer creates the API server. db and locker are only used by the
// health check.
func NewServer(
	schedules storage.ScheduleStorage,
	executions storage.ExecutionStorage,
	locker lock.Locker,
	db *sql.DB,
	logger *zap.Logger,
) *Server {
	return &Server{
		logger:     logger.Named("api"),
		schedules:  schedules,
		executions: executions,
		locker:     locker,
		db:         db,
		resolver:   cron.NewResolver(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("GET /api/schedules/{id}/executions", s.handleListExecutions)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details []string    `json:"details,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, details ...string) {
	s.writeJSON(w, status, apiResponse{Success: false, Error: message, Details: details})
}
