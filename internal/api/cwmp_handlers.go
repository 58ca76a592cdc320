package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

// ========== CWMP intake handlers ==========

// HandleInform handles a device inform: it resolves the session for the
// presented cookie and drains due pending commands into that session.
func (s *RESTServer) HandleInform(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req struct {
		Cookie          string           `json:"cookie"`
		DeviceIP        string           `json:"deviceIp"`
		Events          []string         `json:"events"`
		SoftwareVersion string           `json:"softwareVersion"`
		Parameters      models.Variables `json:"parameters"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
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

	deviceIP := req.DeviceIP
	if deviceIP == "" {
		deviceIP = r.RemoteAddr
	}

	if err := s.store.TouchDeviceInform(ctx, device.ID, deviceIP, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("device_id", device.ID.String()).Msg("Failed to record inform time")
	}
	if req.SoftwareVersion != "" && req.SoftwareVersion != device.SoftwareVersion {
		device.SoftwareVersion = req.SoftwareVersion
		if err := s.store.UpdateDevice(ctx, device); err != nil {
			log.Warn().Err(err).Str("device_id", device.ID.String()).Msg("Failed to update software version")
		}
	}

	session, err := s.sessions.GetOrCreateSession(ctx, device, req.Cookie, deviceIP)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Drain due pending commands into the session
	claimed, err := s.queue.ClaimDue(ctx, device.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	queued := 0
	for _, cmd := range claimed {
		if err := s.sessions.QueueCommand(ctx, session, cmd.Type, cmd.Parameters, cmd.TaskID); err != nil {
			log.Error().Err(err).Str("command_id", cmd.ID.String()).Msg("Failed to queue claimed command into session")
			if err := s.queue.MarkFailed(ctx, cmd, "session queueing failed: "+err.Error()); err != nil {
				log.Error().Err(err).Str("command_id", cmd.ID.String()).Msg("Failed to mark command failed")
			}
			continue
		}
		if err := s.queue.MarkDelivered(ctx, cmd, session.ID); err != nil {
			log.Error().Err(err).Str("command_id", cmd.ID.String()).Msg("Failed to mark command delivered")
			continue
		}
		queued++
	}

	event := &models.EventLog{
		DeviceID:    &device.ID,
		SessionID:   &session.ID,
		Type:        models.EventTypeInform,
		Level:       models.EventLevelInfo,
		Description: "device inform",
		Details: models.Variables{
			"events":          req.Events,
			"queued_commands": queued,
		},
	}
	if err := s.store.CreateEventLog(ctx, event); err != nil {
		log.Warn().Err(err).Msg("Failed to write inform event")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":      session.ID,
		"cookie":          session.Cookie,
		"queued_commands": queued,
	})
}

// HandleSessionNext pops the next command from the session FIFO. An
// exhausted queue returns a null command, which tells the device the
// conversation can end.
func (s *RESTServer) HandleSessionNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if session.Status != models.SessionStatusActive {
		s.respondError(w, http.StatusConflict, "session is not active")
		return
	}

	touched, err := s.sessions.Touch(ctx, session)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !touched {
		s.respondError(w, http.StatusConflict, "session has timed out")
		return
	}

	cmd, err := s.sessions.NextCommand(ctx, session)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	messageID, err := s.sessions.NextMessageID(ctx, session)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"command":    cmd,
		"message_id": messageID,
	})
}

// HandleSessionClose closes a session
func (s *RESTServer) HandleSessionClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req struct {
		Status models.SessionStatus `json:"status"`
	}
	// An empty body means a normal close
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Status = models.SessionStatusClosed
	}
	if req.Status == "" {
		req.Status = models.SessionStatusClosed
	}

	if err := s.sessions.CloseSession(ctx, id, req.Status); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
