package validation

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

// instanceMarker is the multi-instance placeholder used by BBF object
// templates, e.g. Device.WiFi.SSID.{i}.SSID.
const instanceMarker = "{i}"

// unitMultipliers normalizes a unit-suffixed numeric value into base
// units before range comparison.
var unitMultipliers = map[string]float64{
	"bps":  1,
	"kbps": 1000,
	"Mbps": 1000 * 1000,
	"Gbps": 1000 * 1000 * 1000,
	"B":    1,
	"KB":   1 << 10,
	"MB":   1 << 20,
	"GB":   1 << 30,
	"ms":   0.001,
	"s":    1,
	"min":  60,
	"h":    3600,
	"Hz":   1,
	"kHz":  1000,
	"MHz":  1000 * 1000,
}

// Gate validates parameter batches against a BBF data model before any
// value may be queued or transmitted to a device.
type Gate struct {
	store storage.Store
}

// NewGate creates a validation gate
func NewGate(store storage.Store) *Gate {
	return &Gate{store: store}
}

// ValidateParameters validates a batch of path/value pairs against the
// given data model. The whole batch is always examined; errors are
// collected, never thrown at the first failure.
func (g *Gate) ValidateParameters(ctx context.Context, dataModelID uuid.UUID, values map[string]string, deviceVersion string) (*Report, error) {
	report := newReport()

	paths := make([]string, 0, len(values))
	for path := range values {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		value := values[path]
		report.Checked++

		def, err := g.resolveDefinition(ctx, dataModelID, path)
		if err != nil {
			return nil, err
		}
		if def == nil {
			report.addError(Issue{
				Parameter:  path,
				Message:    "parameter not found in data model",
				Suggestion: "check the parameter path against the device's data model",
			})
			continue
		}

		g.validateOne(path, value, def, deviceVersion, report)
	}

	return report, nil
}

// resolveDefinition looks up a definition by exact path, then retries
// with instance indices generalized to the {i} template marker.
func (g *Gate) resolveDefinition(ctx context.Context, dataModelID uuid.UUID, path string) (*models.ParameterDefinition, error) {
	def, err := g.store.GetParameterDefinition(ctx, dataModelID, path)
	if err == nil {
		return def, nil
	}
	if err != storage.ErrNotFound {
		return nil, fmt.Errorf("resolve parameter definition: %w", err)
	}

	generic := generalizePath(path)
	if generic == path {
		return nil, nil
	}

	def, err = g.store.GetParameterDefinition(ctx, dataModelID, generic)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve parameter definition: %w", err)
	}

	return def, nil
}

// generalizePath replaces numeric instance indices with the {i} marker
func generalizePath(path string) string {
	parts := strings.Split(path, ".")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			parts[i] = instanceMarker
		}
	}
	return strings.Join(parts, ".")
}

func (g *Gate) validateOne(path, value string, def *models.ParameterDefinition, deviceVersion string, report *Report) {
	if deviceVersion != "" && def.MinFirmware != "" && !meetsMinVersion(deviceVersion, def.MinFirmware) {
		report.addWarning(Issue{
			Parameter: path,
			Message: fmt.Sprintf("parameter requires firmware %s or later, device reports %s",
				def.MinFirmware, deviceVersion),
			Suggestion: "upgrade the device firmware before applying this parameter",
		})
	}

	if def.IsObject {
		report.addError(Issue{
			Parameter:  path,
			Message:    "path refers to an object, not a writable parameter",
			Suggestion: "set a leaf parameter beneath this object instead",
		})
		return
	}

	if def.Access == models.AccessReadOnly {
		report.addWarning(Issue{
			Parameter:  path,
			Message:    "parameter is read-only and will be ignored by the device",
			Suggestion: "remove read-only parameters from the request",
		})
	}

	ok := g.checkConstraints(path, value, def, report)
	if ok {
		ok = g.checkType(path, value, def, report)
	}

	if ok {
		report.Validated[path] = AcceptedParameter{
			Value:  value,
			Type:   def.Type,
			Access: def.Access,
		}
	}
}

// meetsMinVersion compares firmware versions. Unparseable versions skip
// the check rather than blocking the batch.
func meetsMinVersion(deviceVersion, minVersion string) bool {
	dv, err := semver.NewVersion(deviceVersion)
	if err != nil {
		log.Debug().Str("version", deviceVersion).Msg("unparseable device firmware version")
		return true
	}

	mv, err := semver.NewVersion(minVersion)
	if err != nil {
		log.Debug().Str("version", minVersion).Msg("unparseable minimum firmware version")
		return true
	}

	return !dv.LessThan(mv)
}

// checkConstraints applies the definition's constraint bag. Returns
// false when an error was recorded.
func (g *Gate) checkConstraints(path, value string, def *models.ParameterDefinition, report *Report) bool {
	c := def.Constraints

	if len(c.Enum) > 0 {
		found := false
		for _, allowed := range c.Enum {
			if value == allowed {
				found = true
				break
			}
		}
		if !found {
			report.addError(Issue{
				Parameter:     path,
				Message:       fmt.Sprintf("value %q is not in the allowed set", value),
				AllowedValues: c.Enum,
			})
			return false
		}
	}

	if c.MinLength != nil && len(value) < *c.MinLength {
		report.addError(Issue{
			Parameter: path,
			Message:   fmt.Sprintf("value is shorter than the minimum length %d", *c.MinLength),
		})
		return false
	}
	if c.MaxLength != nil && len(value) > *c.MaxLength {
		report.addError(Issue{
			Parameter: path,
			Message:   fmt.Sprintf("value exceeds the maximum length %d", *c.MaxLength),
		})
		return false
	}

	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			report.addError(Issue{
				Parameter: path,
				Message:   "parameter definition carries an invalid pattern",
			})
			return false
		}
		if !re.MatchString(value) {
			report.addError(Issue{
				Parameter:  path,
				Message:    fmt.Sprintf("value does not match required pattern %s", c.Pattern),
				Suggestion: "check the value format against the data model",
			})
			return false
		}
	}

	if c.Min != nil || c.Max != nil {
		if !g.checkRange(path, value, c, report) {
			return false
		}
	}

	if c.RequiredUnit != "" && !strings.HasSuffix(strings.TrimSpace(value), c.RequiredUnit) {
		report.addError(Issue{
			Parameter:  path,
			Message:    fmt.Sprintf("value must carry the unit suffix %q", c.RequiredUnit),
			Suggestion: fmt.Sprintf("append %q to the value", c.RequiredUnit),
		})
		return false
	}

	return true
}

// splitUnit separates a trailing unit suffix from a numeric value
func splitUnit(value string) (string, string) {
	trimmed := strings.TrimSpace(value)
	i := len(trimmed)
	for i > 0 {
		ch := trimmed[i-1]
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == '-' || ch == '+' {
			break
		}
		i--
	}
	return strings.TrimSpace(trimmed[:i]), strings.TrimSpace(trimmed[i:])
}

// checkRange compares a numeric value, normalized by its unit suffix,
// against the declared bounds. Bounds expressed in a declared unit are
// normalized the same way.
func (g *Gate) checkRange(path, value string, c models.Constraints, report *Report) bool {
	numStr, unit := splitUnit(value)

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		report.addError(Issue{
			Parameter: path,
			Message:   fmt.Sprintf("value %q is not numeric", value),
		})
		return false
	}

	if unit != "" {
		mult, ok := unitMultipliers[unit]
		if !ok {
			report.addError(Issue{
				Parameter: path,
				Message:   fmt.Sprintf("unknown unit %q", unit),
			})
			return false
		}
		num *= mult
	}

	boundMult := 1.0
	if c.Unit != "" {
		if mult, ok := unitMultipliers[c.Unit]; ok {
			boundMult = mult
		}
	}

	if c.Min != nil && num < *c.Min*boundMult {
		report.addError(Issue{
			Parameter:  path,
			Message:    fmt.Sprintf("value %s is below the minimum %v%s", value, *c.Min, c.Unit),
			Suggestion: fmt.Sprintf("use a value of at least %v%s", *c.Min, c.Unit),
		})
		return false
	}
	if c.Max != nil && num > *c.Max*boundMult {
		report.addError(Issue{
			Parameter:  path,
			Message:    fmt.Sprintf("value %s is above the maximum %v%s", value, *c.Max, c.Unit),
			Suggestion: fmt.Sprintf("use a value of at most %v%s", *c.Max, c.Unit),
		})
		return false
	}

	return true
}

// checkType enforces the declared base type. An unknown type is an
// error; the gate fails closed.
func (g *Gate) checkType(path, value string, def *models.ParameterDefinition, report *Report) bool {
	fail := func(message, suggestion string) bool {
		report.addError(Issue{Parameter: path, Message: message, Suggestion: suggestion})
		return false
	}

	switch def.Type {
	case models.TypeString:
		return true

	case models.TypeBoolean:
		switch value {
		case "true", "false", "0", "1":
			return true
		}
		return fail(fmt.Sprintf("value %q is not a boolean", value), "use true, false, 0 or 1")

	case models.TypeInt:
		if _, err := strconv.ParseInt(value, 10, 32); err != nil {
			return fail(fmt.Sprintf("value %q is not a 32-bit signed integer", value),
				"use a value between -2147483648 and 2147483647")
		}
		return true

	case models.TypeUnsignedInt:
		if _, err := strconv.ParseUint(value, 10, 32); err != nil {
			return fail(fmt.Sprintf("value %q is not a 32-bit unsigned integer", value),
				"use a value between 0 and 4294967295")
		}
		return true

	case models.TypeLong:
		// 64-bit bounds must be checked exactly; ParseInt never routes
		// through floating point.
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fail(fmt.Sprintf("value %q is not a 64-bit signed integer", value),
				"use a value between -9223372036854775808 and 9223372036854775807")
		}
		return true

	case models.TypeUnsignedLong:
		if _, err := strconv.ParseUint(value, 10, 64); err != nil {
			return fail(fmt.Sprintf("value %q is not a 64-bit unsigned integer", value),
				"use a value between 0 and 18446744073709551615")
		}
		return true

	case models.TypeDateTime:
		if _, err := time.Parse(time.RFC3339, value); err == nil {
			return true
		}
		if _, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
			return true
		}
		return fail(fmt.Sprintf("value %q is not an ISO-8601 date-time", value),
			"use a value like 2024-01-31T12:00:00Z")

	case models.TypeBase64:
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil || base64.StdEncoding.EncodeToString(decoded) != value {
			return fail("value is not canonical base64", "")
		}
		return true

	case models.TypeHexBinary:
		if len(value)%2 != 0 {
			return fail("hexBinary value must have an even number of digits", "")
		}
		if _, err := hex.DecodeString(value); err != nil {
			return fail(fmt.Sprintf("value %q is not valid hexadecimal", value), "")
		}
		return true

	case models.TypeIPv4Address:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() == nil {
			return fail(fmt.Sprintf("value %q is not an IPv4 address", value), "")
		}
		return true

	case models.TypeIPv6Address:
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() != nil {
			return fail(fmt.Sprintf("value %q is not an IPv6 address", value), "")
		}
		return true

	case models.TypeMACAddress:
		if _, err := net.ParseMAC(value); err != nil {
			return fail(fmt.Sprintf("value %q is not a MAC address", value),
				"use the form aa:bb:cc:dd:ee:ff")
		}
		return true

	case models.TypeList:
		for _, element := range strings.Split(value, ",") {
			if strings.TrimSpace(element) == "" {
				return fail("list value contains an empty element", "remove empty list elements")
			}
		}
		return true
	}

	return fail(fmt.Sprintf("unknown parameter type %q in data model", def.Type),
		"fix the parameter definition")
}
