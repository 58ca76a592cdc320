package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// ========== Device Methods ==========

const deviceColumns = `
    id, created_at, updated_at, serial_number, oui, product_class,
    manufacturer, model_name, description, software_version, hardware_version,
    connection_request_url, connection_request_username, connection_request_password,
    auth_method, data_model_id, ip_address, last_inform_at, is_disabled, tags`

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	if device.AuthMethod == "" {
		device.AuthMethod = models.AuthMethodDigest
	}

	query := `
        INSERT INTO devices (
            id, created_at, updated_at, serial_number, oui, product_class,
            manufacturer, model_name, description, software_version, hardware_version,
            connection_request_url, connection_request_username, connection_request_password,
            auth_method, data_model_id, ip_address, last_inform_at, is_disabled, tags
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
            $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.CreatedAt, device.UpdatedAt, device.SerialNumber,
		device.OUI, device.ProductClass, device.Manufacturer, device.ModelName,
		device.Description, device.SoftwareVersion, device.HardwareVersion,
		device.ConnectionRequestURL, device.ConnectionRequestUsername,
		device.ConnectionRequestPassword, device.AuthMethod, device.DataModelID,
		device.IPAddress, device.LastInformAt, device.IsDisabled, device.Tags,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func (s *PostgresStore) scanDevice(row interface{ Scan(...interface{}) error }) (*models.Device, error) {
	device := &models.Device{}
	var authMethod string

	err := row.Scan(
		&device.ID, &device.CreatedAt, &device.UpdatedAt, &device.SerialNumber,
		&device.OUI, &device.ProductClass, &device.Manufacturer, &device.ModelName,
		&device.Description, &device.SoftwareVersion, &device.HardwareVersion,
		&device.ConnectionRequestURL, &device.ConnectionRequestUsername,
		&device.ConnectionRequestPassword, &authMethod, &device.DataModelID,
		&device.IPAddress, &device.LastInformAt, &device.IsDisabled, &device.Tags,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	device.AuthMethod = models.AuthMethod(authMethod)
	return device, nil
}

// GetDevice gets a device by ID
func (s *PostgresStore) GetDevice(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	return s.scanDevice(s.getDB().QueryRowContext(ctx, query, id))
}

// GetDeviceBySerial gets a device by OUI and serial number
func (s *PostgresStore) GetDeviceBySerial(ctx context.Context, oui, serialNumber string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE oui = $1 AND serial_number = $2`
	return s.scanDevice(s.getDB().QueryRowContext(ctx, query, oui, serialNumber))
}

// UpdateDevice updates a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	query := `
        UPDATE devices SET
            updated_at = $2, serial_number = $3, oui = $4, product_class = $5,
            manufacturer = $6, model_name = $7, description = $8,
            software_version = $9, hardware_version = $10,
            connection_request_url = $11, connection_request_username = $12,
            connection_request_password = $13, auth_method = $14,
            data_model_id = $15, ip_address = $16, is_disabled = $17, tags = $18
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.UpdatedAt, device.SerialNumber, device.OUI,
		device.ProductClass, device.Manufacturer, device.ModelName,
		device.Description, device.SoftwareVersion, device.HardwareVersion,
		device.ConnectionRequestURL, device.ConnectionRequestUsername,
		device.ConnectionRequestPassword, device.AuthMethod, device.DataModelID,
		device.IPAddress, device.IsDisabled, device.Tags,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDevice deletes a device
func (s *PostgresStore) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM devices WHERE id = $1", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListDevices lists devices
func (s *PostgresStore) ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + deviceColumns + `
        FROM devices
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := s.scanDevice(rows)
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, device)
	}

	return devices, count, nil
}

// TouchDeviceInform records a device contact
func (s *PostgresStore) TouchDeviceInform(ctx context.Context, id uuid.UUID, ip string, when time.Time) error {
	query := `
        UPDATE devices
        SET last_inform_at = $2, ip_address = $3, updated_at = $2
        WHERE id = $1`

	_, err := s.getDB().ExecContext(ctx, query, id, when, ip)
	return err
}
