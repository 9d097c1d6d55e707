package licensing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"ativo":        StatusActive,
		"ATIVO":        StatusActive,
		" active ":     StatusActive,
		"pendente":     StatusPending,
		"Pending":      StatusPending,
		"bloqueado":    StatusBlocked,
		"blocked":      StatusBlocked,
		"desconhecido": StatusUnknown,
		"":             StatusUnknown,
		"suspenso":     StatusUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseStatus(in), "ParseStatus(%q)", in)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "2025-12-31", want: "2025-12-31"},
		{in: "2025-12-31T23:59:59Z", want: "2025-12-31"},
		{in: "2025-12-31T22:00:00-03:00", want: "2026-01-01"},
		{in: "2025-12-31 10:00:00", want: "2025-12-31"},
		{in: "N/A"},
		{in: ""},
		{in: "31/12/2025"},
	}
	for _, tt := range tests {
		got := ParseDate(tt.in)
		if tt.want == "" {
			assert.Nil(t, got, tt.in)
			continue
		}
		require.NotNil(t, got, tt.in)
		assert.Equal(t, tt.want, got.Format(DateLayout), tt.in)
	}
}

func TestParseModules(t *testing.T) {
	assert.Equal(t, []string{"filas", "gravacao"}, ParseModules(" Gravacao,filas,,gravacao "))
	assert.Nil(t, ParseModules(""))
	assert.Nil(t, ParseModules(" , "))
}

func TestRecordJSONFormat(t *testing.T) {
	record := Record{
		HardwareID:     ComputeHardwareHash("ABC", "aa:bb:cc:dd:ee:ff"),
		Serial:         "ABC",
		MAC:            "aa:bb:cc:dd:ee:ff",
		Status:         StatusActive,
		ValidUntil:     ParseDate("2026-03-01"),
		Modules:        []string{"filas", "gravacao"},
		VirtualMachine: true,
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, record.HardwareID, raw["hardware_id"])
	assert.Equal(t, "ABC", raw["cpu_serial"])
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", raw["mac"])
	assert.Equal(t, "ativo", raw["status"])
	assert.Equal(t, "2026-03-01", raw["valid_until"])
	assert.Equal(t, "filas,gravacao", raw["modulos_override"])
	assert.Equal(t, true, raw["is_vm"])

	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, record, decoded)
}

func TestRecordJSONOmitsUnknownFields(t *testing.T) {
	data, err := json.Marshal(Record{HardwareID: "X"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hardware_id":"X"}`, string(data))
}

func TestRecordUnmarshalLegacyFile(t *testing.T) {
	// Files written by the installer carry raw identifiers and "N/A" dates.
	legacy := `{"hardware_id":"ABCDEF","cpu_serial":" 4c4c4544 ","mac":"00-D7-6D-25-27-09","status":"pendente","valid_until":"N/A"}`

	var record Record
	require.NoError(t, json.Unmarshal([]byte(legacy), &record))
	assert.Equal(t, "4C4C4544", record.Serial)
	assert.Equal(t, "00:d7:6d:25:27:09", record.MAC)
	assert.Equal(t, StatusPending, record.Status)
	assert.Nil(t, record.ValidUntil)
	assert.False(t, record.VirtualMachine)
}

func TestRecordConsistent(t *testing.T) {
	id := ComputeHardwareHash("ABC", "aa:bb:cc:dd:ee:ff")
	assert.True(t, Record{HardwareID: id, Serial: "ABC", MAC: "aa:bb:cc:dd:ee:ff"}.Consistent())
	assert.True(t, Record{HardwareID: id}.Consistent())
	assert.False(t, Record{HardwareID: id, Serial: "XYZ", MAC: "aa:bb:cc:dd:ee:ff"}.Consistent())
}

func TestRecordHasModule(t *testing.T) {
	r := Record{Modules: []string{"filas"}}
	assert.True(t, r.HasModule(" FILAS "))
	assert.False(t, r.HasModule("gravacao"))
}

func TestActivationResponseDecoding(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  string
		until   string
		modules []string
	}{
		{name: "string_modules", body: `{"status":"ativo","valid_until":"2026-01-01","modulos_override":"b,a"}`, status: "ativo", until: "2026-01-01", modules: []string{"a", "b"}},
		{name: "array_modules", body: `{"status":"ativo","modulos_override":["B","a"]}`, status: "ativo", modules: []string{"a", "b"}},
		{name: "null_fields", body: `{"status":null,"valid_until":null,"modulos_override":null}`},
		{name: "absent_fields", body: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ActivationResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &resp))
			assert.Equal(t, tt.status, string(resp.Status))
			assert.Equal(t, tt.until, string(resp.ValidUntil))
			assert.Equal(t, tt.modules, []string(resp.ModulesOverride))
		})
	}
}
