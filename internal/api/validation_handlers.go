package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

// ========== Validation handlers ==========

// HandleValidateParameters validates a parameter batch against the
// device's data model. Every parameter is checked; the report carries
// all errors and warnings at once.
func (s *RESTServer) HandleValidateParameters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req struct {
		Parameters map[string]string `json:"parameters"`
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

	if device.DataModelID == nil {
		s.respondError(w, http.StatusConflict, "device has no data model assigned")
		return
	}

	report, err := s.gate.ValidateParameters(ctx, *device.DataModelID, req.Parameters, device.SoftwareVersion)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	event := &models.EventLog{
		DeviceID:    &device.ID,
		Type:        models.EventTypeValidation,
		Level:       models.EventLevelInfo,
		Description: "parameter validation",
		Details: models.Variables{
			"checked": report.Checked,
			"valid":   report.Valid,
			"errors":  len(report.Errors),
		},
	}
	if err := s.store.CreateEventLog(ctx, event); err != nil {
		log.Warn().Err(err).Msg("Failed to write validation event")
	}

	s.respondJSON(w, http.StatusOK, report)
}

// ========== Template handlers ==========

// HandleCreateTemplate creates a provisioning template
func (s *RESTServer) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string               `json:"name"`
		Description string               `json:"description"`
		DataModelID uuid.UUID            `json:"dataModelId"`
		Parameters  models.Variables     `json:"parameters"`
		Rules       models.TemplateRules `json:"rules"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" || req.DataModelID == uuid.Nil {
		s.respondError(w, http.StatusBadRequest, "name and dataModelId are required")
		return
	}

	tpl := &models.ProvisioningTemplate{
		Name:        req.Name,
		Description: req.Description,
		DataModelID: req.DataModelID,
		Parameters:  req.Parameters,
		Rules:       req.Rules,
	}

	if err := s.store.CreateTemplate(r.Context(), tpl); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "template already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, tpl)
}

// HandleGetTemplate gets a provisioning template
func (s *RESTServer) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	tpl, err := s.store.GetTemplate(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "template not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, tpl)
}

// HandleValidateTemplate validates a template's parameters against its
// data model and rules
func (s *RESTServer) HandleValidateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	report, err := s.gate.ValidateTemplate(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "template not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}
