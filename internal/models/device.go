package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthMethod is the authentication scheme a CPE declares for its
// connection-request endpoint.
type AuthMethod string

const (
	AuthMethodBasic  AuthMethod = "basic"
	AuthMethodDigest AuthMethod = "digest"
)

// Other returns the alternate scheme, used for the 401 fallback.
func (m AuthMethod) Other() AuthMethod {
	if m == AuthMethodDigest {
		return AuthMethodBasic
	}
	return AuthMethodDigest
}

// Device represents a managed CPE
type Device struct {
	BaseModel

	// Identifiers
	SerialNumber string `json:"serialNumber" db:"serial_number"`
	OUI          string `json:"oui" db:"oui"`
	ProductClass string `json:"productClass" db:"product_class"`

	// Metadata
	Manufacturer    string `json:"manufacturer" db:"manufacturer"`
	ModelName       string `json:"modelName" db:"model_name"`
	Description     string `json:"description" db:"description"`
	SoftwareVersion string `json:"softwareVersion" db:"software_version"`
	HardwareVersion string `json:"hardwareVersion" db:"hardware_version"`

	// Connection request endpoint
	ConnectionRequestURL      string     `json:"connectionRequestUrl" db:"connection_request_url"`
	ConnectionRequestUsername string     `json:"-" db:"connection_request_username"`
	ConnectionRequestPassword string     `json:"-" db:"connection_request_password"`
	AuthMethod                AuthMethod `json:"authMethod" db:"auth_method"`

	// CWMP state
	DataModelID  *uuid.UUID `json:"dataModelId,omitempty" db:"data_model_id"`
	IPAddress    string     `json:"ipAddress" db:"ip_address"`
	LastInformAt *time.Time `json:"lastInformAt,omitempty" db:"last_inform_at"`

	// Status
	IsDisabled bool `json:"isDisabled" db:"is_disabled"`

	Tags Variables `json:"tags,omitempty" db:"tags"`
}
