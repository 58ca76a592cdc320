package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

// ========== Command handlers ==========

// HandleSendCommand sends a command to a device, falling back to the
// durable queue when the device cannot be woken
func (s *RESTServer) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req struct {
		Type       models.CommandType `json:"type"`
		Parameters models.Variables   `json:"parameters"`
		Priority   int                `json:"priority"`
		QueueOnly  bool               `json:"queueOnly"`
		TaskID     *uuid.UUID         `json:"taskId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.Type.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown command type")
		return
	}

	device, err := s.store.GetDevice(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if device.IsDisabled {
		s.respondError(w, http.StatusForbidden, "device is disabled")
		return
	}

	if req.QueueOnly {
		cmd, err := s.queue.Enqueue(ctx, device.ID, req.Type, req.Parameters, req.Priority, req.TaskID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusAccepted, cmd)
		return
	}

	result, err := s.queue.SendWithNATFallback(ctx, device, req.Type, req.Parameters, req.Priority)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	} else if !result.Success {
		status = http.StatusBadGateway
	}

	s.respondJSON(w, status, result)
}

// HandleListDeviceCommands lists a device's pending commands
func (s *RESTServer) HandleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	commands, err := s.queue.Pending(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"commands": commands,
		"total":    len(commands),
	})
}

// HandleGetCommand gets a pending command
func (s *RESTServer) HandleGetCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid command id")
		return
	}

	cmd, err := s.store.GetPendingCommand(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "command not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, cmd)
}

// HandleCancelCommand cancels a pending command
func (s *RESTServer) HandleCancelCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid command id")
		return
	}

	cancelled, err := s.queue.Cancel(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "command not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !cancelled {
		s.respondError(w, http.StatusConflict, "command is no longer pending")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleRetryCommand re-queues a failed command
func (s *RESTServer) HandleRetryCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid command id")
		return
	}

	retried, err := s.queue.Retry(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "command not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !retried {
		s.respondError(w, http.StatusConflict, "command is not retryable")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCommandStats reports queue statistics
func (s *RESTServer) HandleCommandStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Statistics(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, stats)
}

// HandleCleanCommands removes terminal commands older than the given age
func (s *RESTServer) HandleCleanCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxAgeHours int `json:"maxAgeHours"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.MaxAgeHours = 0
	}
	if req.MaxAgeHours <= 0 {
		req.MaxAgeHours = int(s.config.Queue.CleanAfter.Hours())
	}

	removed, err := s.queue.CleanOld(r.Context(), time.Duration(req.MaxAgeHours)*time.Hour)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}
