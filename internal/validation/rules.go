package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/evoacs/acs-server/internal/models"
)

// ValidateTemplate validates a provisioning template's parameter set
// against its data model, then applies the template's own business
// rules. Rule violations land in the same error list as data-model
// violations.
func (g *Gate) ValidateTemplate(ctx context.Context, templateID uuid.UUID) (*Report, error) {
	tpl, err := g.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}

	values := make(map[string]string, len(tpl.Parameters))
	for path, raw := range tpl.Parameters {
		values[path] = stringify(raw)
	}

	report, err := g.ValidateParameters(ctx, tpl.DataModelID, values, "")
	if err != nil {
		return nil, err
	}

	for _, rule := range tpl.Rules {
		applyRule(rule, values, report)
	}

	return report, nil
}

func stringify(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// applyRule checks one business rule against every parameter whose path
// contains the rule's label.
func applyRule(rule models.TemplateRule, values map[string]string, report *Report) {
	matched := false

	for path, value := range values {
		if !strings.Contains(strings.ToLower(path), strings.ToLower(rule.Label)) {
			continue
		}
		matched = true
		checkRuleValue(rule, path, value, report)
	}

	if rule.Required && !matched {
		report.addError(Issue{
			Parameter:  rule.Label,
			Message:    fmt.Sprintf("required parameter %q is missing from the template", rule.Label),
			Suggestion: "add the parameter to the template",
		})
	}
}

func checkRuleValue(rule models.TemplateRule, path, value string, report *Report) {
	if rule.Required && strings.TrimSpace(value) == "" {
		report.addError(Issue{
			Parameter: path,
			Message:   fmt.Sprintf("parameter %q must not be empty", rule.Label),
		})
		return
	}

	if rule.Integer {
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			report.addError(Issue{
				Parameter: path,
				Message:   fmt.Sprintf("parameter %q must be an integer", rule.Label),
			})
			return
		}
	}

	if rule.Min != nil || rule.Max != nil {
		num, err := strconv.ParseFloat(value, 64)
		if err != nil {
			report.addError(Issue{
				Parameter: path,
				Message:   fmt.Sprintf("parameter %q must be numeric", rule.Label),
			})
			return
		}
		if rule.Min != nil && num < *rule.Min {
			report.addError(Issue{
				Parameter: path,
				Message:   fmt.Sprintf("parameter %q must be at least %v", rule.Label, *rule.Min),
			})
		}
		if rule.Max != nil && num > *rule.Max {
			report.addError(Issue{
				Parameter: path,
				Message:   fmt.Sprintf("parameter %q must be at most %v", rule.Label, *rule.Max),
			})
		}
	}

	if rule.MinLength != nil && len(value) < *rule.MinLength {
		report.addError(Issue{
			Parameter: path,
			Message:   fmt.Sprintf("parameter %q must be at least %d characters", rule.Label, *rule.MinLength),
		})
	}
	if rule.MaxLength != nil && len(value) > *rule.MaxLength {
		report.addError(Issue{
			Parameter: path,
			Message:   fmt.Sprintf("parameter %q must be at most %d characters", rule.Label, *rule.MaxLength),
		})
	}

	if len(rule.AllowedValues) > 0 {
		found := false
		for _, allowed := range rule.AllowedValues {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			report.addError(Issue{
				Parameter:     path,
				Message:       fmt.Sprintf("parameter %q has a value outside its allowed set", rule.Label),
				AllowedValues: rule.AllowedValues,
			})
		}
	}

	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			report.addError(Issue{
				Parameter: path,
				Message:   fmt.Sprintf("rule for %q carries an invalid pattern", rule.Label),
			})
			return
		}
		if !re.MatchString(value) {
			report.addError(Issue{
				Parameter: path,
				Message:   fmt.Sprintf("parameter %q does not match pattern %s", rule.Label, rule.Pattern),
			})
		}
	}
}
