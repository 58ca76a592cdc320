package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// ========== Data Model Catalog Methods ==========

// CreateDataModel creates a data model
func (s *PostgresStore) CreateDataModel(ctx context.Context, dm *models.DataModel) error {
	if dm.ID == uuid.Nil {
		dm.ID = uuid.New()
	}

	now := time.Now()
	dm.CreatedAt = now
	dm.UpdatedAt = now

	query := `
        INSERT INTO data_models (id, created_at, updated_at, name, version, protocol)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.getDB().ExecContext(ctx, query,
		dm.ID, dm.CreatedAt, dm.UpdatedAt, dm.Name, dm.Version, dm.Protocol,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateKey
	}

	return err
}

// GetDataModel gets a data model by ID
func (s *PostgresStore) GetDataModel(ctx context.Context, id uuid.UUID) (*models.DataModel, error) {
	query := `
        SELECT id, created_at, updated_at, name, version, protocol
        FROM data_models
        WHERE id = $1`

	dm := &models.DataModel{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&dm.ID, &dm.CreatedAt, &dm.UpdatedAt, &dm.Name, &dm.Version, &dm.Protocol,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return dm, nil
}

// CreateParameterDefinition creates a parameter definition
func (s *PostgresStore) CreateParameterDefinition(ctx context.Context, def *models.ParameterDefinition) error {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}

	query := `
        INSERT INTO parameter_definitions (
            id, data_model_id, path, type, access, is_object,
            min_firmware, constraints, description
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		def.ID, def.DataModelID, def.Path, def.Type, def.Access,
		def.IsObject, def.MinFirmware, def.Constraints, def.Description,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateKey
	}

	return err
}

// GetParameterDefinition resolves a definition by exact path
func (s *PostgresStore) GetParameterDefinition(ctx context.Context, dataModelID uuid.UUID, path string) (*models.ParameterDefinition, error) {
	query := `
        SELECT id, data_model_id, path, type, access, is_object,
               min_firmware, constraints, description
        FROM parameter_definitions
        WHERE data_model_id = $1 AND path = $2`

	def := &models.ParameterDefinition{}
	var paramType, access string

	err := s.getDB().QueryRowContext(ctx, query, dataModelID, path).Scan(
		&def.ID, &def.DataModelID, &def.Path, &paramType, &access,
		&def.IsObject, &def.MinFirmware, &def.Constraints, &def.Description,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	def.Type = models.ParameterType(paramType)
	def.Access = models.ParameterAccess(access)
	return def, nil
}

// CreateTemplate creates a provisioning template
func (s *PostgresStore) CreateTemplate(ctx context.Context, tpl *models.ProvisioningTemplate) error {
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}

	now := time.Now()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	query := `
        INSERT INTO provisioning_templates (
            id, created_at, updated_at, name, description,
            data_model_id, parameters, rules
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		tpl.ID, tpl.CreatedAt, tpl.UpdatedAt, tpl.Name, tpl.Description,
		tpl.DataModelID, tpl.Parameters, tpl.Rules,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateKey
	}

	return err
}

// GetTemplate gets a provisioning template by ID
func (s *PostgresStore) GetTemplate(ctx context.Context, id uuid.UUID) (*models.ProvisioningTemplate, error) {
	query := `
        SELECT id, created_at, updated_at, name, description,
               data_model_id, parameters, rules
        FROM provisioning_templates
        WHERE id = $1`

	tpl := &models.ProvisioningTemplate{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt, &tpl.Name, &tpl.Description,
		&tpl.DataModelID, &tpl.Parameters, &tpl.Rules,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return tpl, nil
}
