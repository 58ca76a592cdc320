package validation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evoacs/acs-server/internal/models"
	"github.com/evoacs/acs-server/internal/storage"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// newTestGate seeds a data model with a representative slice of TR-181
// style definitions and returns a gate bound to it.
func newTestGate(t *testing.T) (*Gate, uuid.UUID) {
	t.Helper()

	store := storage.NewMemoryStore()
	ctx := context.Background()

	dm := &models.DataModel{Name: "Device:2", Version: "2.15", Protocol: "cwmp"}
	require.NoError(t, store.CreateDataModel(ctx, dm))

	defs := []*models.ParameterDefinition{
		{
			Path:   "Device.WiFi.SSID.{i}.SSID",
			Type:   models.TypeString,
			Access: models.AccessReadWrite,
			Constraints: models.Constraints{
				MinLength: intPtr(1),
				MaxLength: intPtr(32),
			},
		},
		{
			Path:   "Device.WiFi.SSID.{i}.Enable",
			Type:   models.TypeBoolean,
			Access: models.AccessReadWrite,
		},
		{
			Path:     "Device.WiFi.SSID.{i}.",
			Type:     models.TypeString,
			Access:   models.AccessReadOnly,
			IsObject: true,
		},
		{
			Path:   "Device.Ethernet.Interface.1.MACAddress",
			Type:   models.TypeMACAddress,
			Access: models.AccessReadOnly,
		},
		{
			Path:   "Device.IP.Interface.1.IPv4Address.1.IPAddress",
			Type:   models.TypeIPv4Address,
			Access: models.AccessReadWrite,
		},
		{
			Path:   "Device.DeviceInfo.UpTime",
			Type:   models.TypeUnsignedLong,
			Access: models.AccessReadWrite,
		},
		{
			Path:   "Device.DeviceInfo.Counter",
			Type:   models.TypeLong,
			Access: models.AccessReadWrite,
		},
		{
			Path:   "Device.ManagementServer.PeriodicInformInterval",
			Type:   models.TypeUnsignedInt,
			Access: models.AccessReadWrite,
			Constraints: models.Constraints{
				Min:  floatPtr(30),
				Max:  floatPtr(86400),
				Unit: "s",
			},
		},
		{
			Path:   "Device.QoS.Queue.1.ShapingRate",
			Type:   models.TypeString,
			Access: models.AccessReadWrite,
			Constraints: models.Constraints{
				Min:  floatPtr(1),
				Max:  floatPtr(1000),
				Unit: "Mbps",
			},
		},
		{
			Path:   "Device.WiFi.Radio.1.OperatingFrequencyBand",
			Type:   models.TypeString,
			Access: models.AccessReadWrite,
			Constraints: models.Constraints{
				Enum: []string{"2.4GHz", "5GHz", "6GHz"},
			},
		},
		{
			Path:   "Device.DHCPv4.Server.Pool.1.DomainName",
			Type:   models.TypeString,
			Access: models.AccessReadWrite,
			Constraints: models.Constraints{
				Pattern: `^[a-z0-9.-]+$`,
			},
		},
		{
			Path:        "Device.WiFi.Radio.1.MeshEnable",
			Type:        models.TypeBoolean,
			Access:      models.AccessReadWrite,
			MinFirmware: "2.0.0",
		},
		{
			Path:   "Device.X_VENDOR.Broken",
			Type:   models.ParameterType("float"),
			Access: models.AccessReadWrite,
		},
	}

	for _, def := range defs {
		def.DataModelID = dm.ID
		require.NoError(t, store.CreateParameterDefinition(ctx, def))
	}

	return NewGate(store), dm.ID
}

func TestValidateParametersWholeBatch(t *testing.T) {
	gate, dmID := newTestGate(t)

	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.WiFi.SSID.1.SSID":                       "HomeNet",
		"Device.WiFi.SSID.1.Enable":                     "true",
		"Device.IP.Interface.1.IPv4Address.1.IPAddress": "192.168.1.1",
		"Device.WiFi.Radio.1.OperatingFrequencyBand":    "7GHz",
		"Device.Unknown.Parameter":                      "x",
	}, "")
	require.NoError(t, err)

	// Every parameter is examined even though two of them fail.
	assert.Equal(t, 5, report.Checked)
	assert.False(t, report.Valid)
	assert.Len(t, report.Errors, 2)
	assert.Len(t, report.Validated, 3)
	assert.Contains(t, report.Validated, "Device.WiFi.SSID.1.SSID")
	assert.Contains(t, report.Validated, "Device.WiFi.SSID.1.Enable")
	assert.Contains(t, report.Validated, "Device.IP.Interface.1.IPv4Address.1.IPAddress")
}

func TestValidateParametersAllValid(t *testing.T) {
	gate, dmID := newTestGate(t)

	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.WiFi.SSID.1.SSID":   "HomeNet",
		"Device.WiFi.SSID.2.SSID":   "GuestNet",
		"Device.WiFi.SSID.1.Enable": "1",
	}, "")
	require.NoError(t, err)

	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 3, report.Checked)
	assert.Len(t, report.Validated, 3)
}

func TestValidateInstancePathResolution(t *testing.T) {
	gate, dmID := newTestGate(t)

	// Index 37 has no exact definition; it must resolve through the
	// {i} template.
	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.WiFi.SSID.37.SSID": "Lab",
	}, "")
	require.NoError(t, err)

	assert.True(t, report.Valid)
	assert.Contains(t, report.Validated, "Device.WiFi.SSID.37.SSID")
}

func TestValidateObjectPathRejected(t *testing.T) {
	gate, dmID := newTestGate(t)

	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.WiFi.SSID.1.": "anything",
	}, "")
	require.NoError(t, err)

	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "object")
	assert.Empty(t, report.Validated)
}

func TestValidateReadOnlyWarnsButAccepts(t *testing.T) {
	gate, dmID := newTestGate(t)

	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.Ethernet.Interface.1.MACAddress": "aa:bb:cc:dd:ee:ff",
	}, "")
	require.NoError(t, err)

	assert.True(t, report.Valid)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0].Message, "read-only")
	assert.Contains(t, report.Validated, "Device.Ethernet.Interface.1.MACAddress")
}

func TestValidate64BitBounds(t *testing.T) {
	gate, dmID := newTestGate(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		path  string
		value string
		valid bool
	}{
		{"unsigned long max", "Device.DeviceInfo.UpTime", "18446744073709551615", true},
		{"unsigned long overflow", "Device.DeviceInfo.UpTime", "18446744073709551616", false},
		{"unsigned long negative", "Device.DeviceInfo.UpTime", "-1", false},
		{"long max", "Device.DeviceInfo.Counter", "9223372036854775807", true},
		{"long min", "Device.DeviceInfo.Counter", "-9223372036854775808", true},
		{"long overflow", "Device.DeviceInfo.Counter", "9223372036854775808", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := gate.ValidateParameters(ctx, dmID, map[string]string{tc.path: tc.value}, "")
			require.NoError(t, err)
			assert.Equal(t, tc.valid, report.Valid)
		})
	}
}

func TestValidateEnumConstraint(t *testing.T) {
	gate, dmID := newTestGate(t)

	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.WiFi.Radio.1.OperatingFrequencyBand": "3GHz",
	}, "")
	require.NoError(t, err)

	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, []string{"2.4GHz", "5GHz", "6GHz"}, report.Errors[0].AllowedValues)
}

func TestValidatePatternConstraint(t *testing.T) {
	gate, dmID := newTestGate(t)

	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.DHCPv4.Server.Pool.1.DomainName": "Not Valid!",
	}, "")
	require.NoError(t, err)

	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "pattern")
}

func TestValidateRangeWithUnits(t *testing.T) {
	gate, dmID := newTestGate(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		path  string
		value string
		valid bool
	}{
		{"bare seconds in range", "Device.ManagementServer.PeriodicInformInterval", "300", true},
		{"below minimum", "Device.ManagementServer.PeriodicInformInterval", "10", false},
		{"rate in declared unit", "Device.QoS.Queue.1.ShapingRate", "100Mbps", true},
		{"rate converted from kbps", "Device.QoS.Queue.1.ShapingRate", "500000kbps", true},
		{"rate above maximum", "Device.QoS.Queue.1.ShapingRate", "2Gbps", false},
		{"unknown unit", "Device.QoS.Queue.1.ShapingRate", "100parsecs", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := gate.ValidateParameters(ctx, dmID, map[string]string{tc.path: tc.value}, "")
			require.NoError(t, err)
			assert.Equal(t, tc.valid, report.Valid, "errors: %v", report.Errors)
		})
	}
}

func TestValidateFirmwareGate(t *testing.T) {
	gate, dmID := newTestGate(t)
	ctx := context.Background()

	// Old firmware gets a warning, not an error.
	report, err := gate.ValidateParameters(ctx, dmID, map[string]string{
		"Device.WiFi.Radio.1.MeshEnable": "true",
	}, "1.5.0")
	require.NoError(t, err)

	assert.True(t, report.Valid)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0].Message, "firmware")

	// Sufficient firmware passes clean.
	report, err = gate.ValidateParameters(ctx, dmID, map[string]string{
		"Device.WiFi.Radio.1.MeshEnable": "true",
	}, "2.1.0")
	require.NoError(t, err)

	assert.True(t, report.Valid)
	assert.Empty(t, report.Warnings)

	// Unparseable firmware skips the check.
	report, err = gate.ValidateParameters(ctx, dmID, map[string]string{
		"Device.WiFi.Radio.1.MeshEnable": "true",
	}, "fw-build-1234")
	require.NoError(t, err)

	assert.True(t, report.Valid)
	assert.Empty(t, report.Warnings)
}

func TestValidateUnknownTypeFailsClosed(t *testing.T) {
	gate, dmID := newTestGate(t)

	report, err := gate.ValidateParameters(context.Background(), dmID, map[string]string{
		"Device.X_VENDOR.Broken": "1.5",
	}, "")
	require.NoError(t, err)

	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "unknown parameter type")
}

func TestValidateTypeChecks(t *testing.T) {
	gate, dmID := newTestGate(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		path  string
		value string
		valid bool
	}{
		{"boolean word", "Device.WiFi.SSID.1.Enable", "true", true},
		{"boolean digit", "Device.WiFi.SSID.1.Enable", "0", true},
		{"boolean junk", "Device.WiFi.SSID.1.Enable", "yes", false},
		{"ipv4 ok", "Device.IP.Interface.1.IPv4Address.1.IPAddress", "10.0.0.1", true},
		{"ipv4 is v6", "Device.IP.Interface.1.IPv4Address.1.IPAddress", "::1", false},
		{"ssid too long", "Device.WiFi.SSID.1.SSID", "0123456789012345678901234567890123", false},
		{"ssid empty", "Device.WiFi.SSID.1.SSID", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report, err := gate.ValidateParameters(ctx, dmID, map[string]string{tc.path: tc.value}, "")
			require.NoError(t, err)
			assert.Equal(t, tc.valid, report.Valid, "errors: %v", report.Errors)
		})
	}
}

func TestValidateTemplate(t *testing.T) {
	gate, dmID := newTestGate(t)
	ctx := context.Background()

	store := gate.store

	tpl := &models.ProvisioningTemplate{
		Name:        "residential-wifi",
		DataModelID: dmID,
		Parameters: models.Variables{
			"Device.WiFi.SSID.1.SSID":                        "HomeNet",
			"Device.ManagementServer.PeriodicInformInterval": "300",
		},
		Rules: models.TemplateRules{
			{Label: "PeriodicInformInterval", Required: true, Integer: true, Min: floatPtr(60)},
			{Label: "SSID", Required: true, MinLength: intPtr(2)},
		},
	}
	require.NoError(t, store.CreateTemplate(ctx, tpl))

	report, err := gate.ValidateTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid, "errors: %v", report.Errors)

	// A rule violation surfaces as an error alongside data-model checks.
	bad := &models.ProvisioningTemplate{
		Name:        "bad-interval",
		DataModelID: dmID,
		Parameters: models.Variables{
			"Device.ManagementServer.PeriodicInformInterval": "45",
		},
		Rules: models.TemplateRules{
			{Label: "PeriodicInformInterval", Min: floatPtr(60)},
		},
	}
	require.NoError(t, store.CreateTemplate(ctx, bad))

	report, err = gate.ValidateTemplate(ctx, bad.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
}

func TestValidateTemplateRequiredRuleWithoutMatch(t *testing.T) {
	gate, dmID := newTestGate(t)
	ctx := context.Background()

	tpl := &models.ProvisioningTemplate{
		Name:        "missing-ssid",
		DataModelID: dmID,
		Parameters: models.Variables{
			"Device.WiFi.SSID.1.Enable": "true",
		},
		Rules: models.TemplateRules{
			{Label: "SSID.1.SSID", Required: true},
		},
	}
	require.NoError(t, gate.store.CreateTemplate(ctx, tpl))

	report, err := gate.ValidateTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
}
