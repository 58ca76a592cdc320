package validation

import (
	"github.com/evoacs/acs-server/internal/models"
)

// Severity distinguishes blocking errors from advisory warnings
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding for one parameter
type Issue struct {
	Parameter     string   `json:"parameter"`
	Message       string   `json:"message"`
	Severity      Severity `json:"severity"`
	Suggestion    string   `json:"suggestion,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

// AcceptedParameter describes a parameter that passed validation
type AcceptedParameter struct {
	Value  string                 `json:"value"`
	Type   models.ParameterType   `json:"type"`
	Access models.ParameterAccess `json:"access"`
}

// Report is the outcome of validating one batch. Valid is true iff the
// batch produced zero errors; warnings never block.
type Report struct {
	Valid     bool                         `json:"valid"`
	Errors    []Issue                      `json:"errors"`
	Warnings  []Issue                      `json:"warnings"`
	Validated map[string]AcceptedParameter `json:"validated_parameters"`
	Checked   int                          `json:"parameters_checked"`
}

func newReport() *Report {
	return &Report{
		Valid:     true,
		Errors:    []Issue{},
		Warnings:  []Issue{},
		Validated: make(map[string]AcceptedParameter),
	}
}

func (r *Report) addError(issue Issue) {
	issue.Severity = SeverityError
	r.Errors = append(r.Errors, issue)
	r.Valid = false
}

func (r *Report) addWarning(issue Issue) {
	issue.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, issue)
}
