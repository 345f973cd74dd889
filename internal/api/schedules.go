package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/t77yq/agent-scheduler/internal/model"
	"github.com/t77yq/agent-scheduler/internal/storage"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.schedules.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list schedules", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch schedules")
		return
	}
	if schedules == nil {
		schedules = []*model.Schedule{}
	}
	s.writeData(w, http.StatusOK, schedules)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.schedules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		s.logger.Error("Failed to get schedule", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch schedule")
		return
	}
	s.writeData(w, http.StatusOK, schedule)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req model.CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if problems := s.validateCreate(req); len(problems) > 0 {
		s.writeError(w, http.StatusBadRequest, "Validation error", problems...)
		return
	}

	schedule, err := s.schedules.Create(r.Context(), req)
	if err != nil {
		s.logger.Error("Failed to create schedule", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to create schedule")
		return
	}
	s.writeData(w, http.StatusCreated, schedule)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if problems := s.validateUpdate(req); len(problems) > 0 {
		s.writeError(w, http.StatusBadRequest, "Validation error", problems...)
		return
	}

	schedule, err := s.schedules.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Schedule not found")
			return
		}
		s.logger.Error("Failed to update schedule", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to update schedule")
		return
	}
	s.writeData(w, http.StatusOK, schedule)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	err := s.schedules.Delete(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("Failed to delete schedule", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to delete schedule")
		return
	}
	s.writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Schedule deleted successfully"})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	executions, err := s.executions.ListBySchedule(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.logger.Error("Failed to list executions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to fetch executions")
		return
	}
	if executions == nil {
		executions = []*model.Execution{}
	}
	s.writeData(w, http.StatusOK, executions)
}
