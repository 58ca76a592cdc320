package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

// ParameterType enumerates the BBF data-model base types
type ParameterType string

const (
	TypeString       ParameterType = "string"
	TypeBoolean      ParameterType = "boolean"
	TypeInt          ParameterType = "int"
	TypeUnsignedInt  ParameterType = "unsignedInt"
	TypeLong         ParameterType = "long"
	TypeUnsignedLong ParameterType = "unsignedLong"
	TypeDateTime     ParameterType = "dateTime"
	TypeBase64       ParameterType = "base64"
	TypeHexBinary    ParameterType = "hexBinary"
	TypeIPv4Address  ParameterType = "IPv4Address"
	TypeIPv6Address  ParameterType = "IPv6Address"
	TypeMACAddress   ParameterType = "MACAddress"
	TypeList         ParameterType = "list"
)

// ParameterAccess represents parameter writability
type ParameterAccess string

const (
	AccessReadOnly  ParameterAccess = "readOnly"
	AccessReadWrite ParameterAccess = "readWrite"
	AccessWriteOnly ParameterAccess = "writeOnly"
)

// Constraints is the constraint bag attached to a parameter definition.
// Min/Max are expressed in Unit when a unit is declared.
type Constraints struct {
	Enum         []string `json:"enum,omitempty"`
	MinLength    *int     `json:"minLength,omitempty"`
	MaxLength    *int     `json:"maxLength,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Unit         string   `json:"unit,omitempty"`
	RequiredUnit string   `json:"requiredUnit,omitempty"`
}

// Value implements driver.Valuer interface
func (c Constraints) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner interface
func (c *Constraints) Scan(value interface{}) error {
	if value == nil {
		*c = Constraints{}
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, c)
	case string:
		return json.Unmarshal([]byte(data), c)
	default:
		return json.Unmarshal([]byte(data.(string)), c)
	}
}

// ParameterDefinition describes one path in a BBF data model. Multi
// instance object templates carry the {i} placeholder in their path.
type ParameterDefinition struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	DataModelID uuid.UUID       `json:"dataModelId" db:"data_model_id"`
	Path        string          `json:"path" db:"path"`
	Type        ParameterType   `json:"type" db:"type"`
	Access      ParameterAccess `json:"access" db:"access"`
	IsObject    bool            `json:"isObject" db:"is_object"`
	MinFirmware string          `json:"minFirmware,omitempty" db:"min_firmware"`
	Constraints Constraints     `json:"constraints" db:"constraints"`
	Description string          `json:"description,omitempty" db:"description"`
}

// DataModel represents one BBF data-model catalog (e.g. TR-181 2.x)
type DataModel struct {
	BaseModel

	Name     string `json:"name" db:"name"`
	Version  string `json:"version" db:"version"`
	Protocol string `json:"protocol" db:"protocol"`
}

// TemplateRule is a business rule attached to a provisioning template.
// Label is matched against parameter paths by substring.
type TemplateRule struct {
	Label         string   `json:"label"`
	Required      bool     `json:"required,omitempty"`
	Integer       bool     `json:"integer,omitempty"`
	Min           *float64 `json:"min,omitempty"`
	Max           *float64 `json:"max,omitempty"`
	MinLength     *int     `json:"minLength,omitempty"`
	MaxLength     *int     `json:"maxLength,omitempty"`
	AllowedValues []string `json:"allowedValues,omitempty"`
	Pattern       string   `json:"pattern,omitempty"`
}

// TemplateRules is a JSON-stored rule list
type TemplateRules []TemplateRule

// Value implements driver.Valuer interface
func (r TemplateRules) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner interface
func (r *TemplateRules) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, r)
	case string:
		return json.Unmarshal([]byte(data), r)
	default:
		return json.Unmarshal([]byte(data.(string)), r)
	}
}

// ProvisioningTemplate is a named parameter set applied to devices,
// validated against its data model plus its own business rules.
type ProvisioningTemplate struct {
	BaseModel

	Name        string        `json:"name" db:"name"`
	Description string        `json:"description,omitempty" db:"description"`
	DataModelID uuid.UUID     `json:"dataModelId" db:"data_model_id"`
	Parameters  Variables     `json:"parameters" db:"parameters"`
	Rules       TemplateRules `json:"rules,omitempty" db:"rules"`
}
