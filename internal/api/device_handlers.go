package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

// ========== Device handlers ==========

// HandleListDevices lists devices
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	devices, total, err := s.store.ListDevices(ctx, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
	})
}

// HandleCreateDevice creates a device
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SerialNumber              string            `json:"serialNumber"`
		OUI                       string            `json:"oui"`
		ProductClass              string            `json:"productClass"`
		Manufacturer              string            `json:"manufacturer"`
		ModelName                 string            `json:"modelName"`
		Description               string            `json:"description"`
		SoftwareVersion           string            `json:"softwareVersion"`
		HardwareVersion           string            `json:"hardwareVersion"`
		ConnectionRequestURL      string            `json:"connectionRequestUrl"`
		ConnectionRequestUsername string            `json:"connectionRequestUsername"`
		ConnectionRequestPassword string            `json:"connectionRequestPassword"`
		AuthMethod                models.AuthMethod `json:"authMethod"`
		DataModelID               *uuid.UUID        `json:"dataModelId"`
		Tags                      models.Variables  `json:"tags"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SerialNumber == "" || req.OUI == "" {
		s.respondError(w, http.StatusBadRequest, "serialNumber and oui are required")
		return
	}

	device := &models.Device{
		SerialNumber:              req.SerialNumber,
		OUI:                       req.OUI,
		ProductClass:              req.ProductClass,
		Manufacturer:              req.Manufacturer,
		ModelName:                 req.ModelName,
		Description:               req.Description,
		SoftwareVersion:           req.SoftwareVersion,
		HardwareVersion:           req.HardwareVersion,
		ConnectionRequestURL:      req.ConnectionRequestURL,
		ConnectionRequestUsername: req.ConnectionRequestUsername,
		ConnectionRequestPassword: req.ConnectionRequestPassword,
		AuthMethod:                req.AuthMethod,
		DataModelID:               req.DataModelID,
		Tags:                      req.Tags,
	}

	if err := s.store.CreateDevice(r.Context(), device); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "device already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, device)
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
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

	s.respondJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice updates a device
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	var req struct {
		Description               *string            `json:"description"`
		ConnectionRequestURL      *string            `json:"connectionRequestUrl"`
		ConnectionRequestUsername *string            `json:"connectionRequestUsername"`
		ConnectionRequestPassword *string            `json:"connectionRequestPassword"`
		AuthMethod                *models.AuthMethod `json:"authMethod"`
		DataModelID               *uuid.UUID         `json:"dataModelId"`
		IsDisabled                *bool              `json:"isDisabled"`
		Tags                      models.Variables   `json:"tags"`
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

	// Update fields
	if req.Description != nil {
		device.Description = *req.Description
	}
	if req.ConnectionRequestURL != nil {
		device.ConnectionRequestURL = *req.ConnectionRequestURL
	}
	if req.ConnectionRequestUsername != nil {
		device.ConnectionRequestUsername = *req.ConnectionRequestUsername
	}
	if req.ConnectionRequestPassword != nil {
		device.ConnectionRequestPassword = *req.ConnectionRequestPassword
	}
	if req.AuthMethod != nil {
		device.AuthMethod = *req.AuthMethod
	}
	if req.DataModelID != nil {
		device.DataModelID = req.DataModelID
	}
	if req.IsDisabled != nil {
		device.IsDisabled = *req.IsDisabled
	}
	if req.Tags != nil {
		device.Tags = req.Tags
	}

	if err := s.store.UpdateDevice(ctx, device); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleDeleteDevice deletes a device
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return
	}

	if err := s.store.DeleteDevice(ctx, id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ========== Connection request handlers ==========

// HandleConnectionRequest wakes a device immediately, without queueing
// a command
func (s *RESTServer) HandleConnectionRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
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

	result := s.dispatcher.SendConnectionRequest(ctx, device)
	s.respondJSON(w, http.StatusOK, result)
}

// HandleTestConnectionRequest probes a device's connection-request
// endpoint for diagnostics
func (s *RESTServer) HandleTestConnectionRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
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

	result := s.dispatcher.TestConnectionRequest(ctx, device)
	s.respondJSON(w, http.StatusOK, result)
}
