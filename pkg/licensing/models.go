package licensing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used on disk and on the wire.
const DateLayout = "2006-01-02"

// Status is the license status reported by the licensing authority.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusActive
	StatusBlocked
)

// Wire values written to the record file. The authority speaks Portuguese.
const (
	statusWireUnknown = "desconhecido"
	statusWirePending = "pendente"
	statusWireActive  = "ativo"
	statusWireBlocked = "bloqueado"
)

// ParseStatus maps a wire string to a Status. Unrecognized values map to
// StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case statusWireActive, "active":
		return StatusActive
	case statusWirePending, "pending":
		return StatusPending
	case statusWireBlocked, "blocked", "bloqueada":
		return StatusBlocked
	default:
		return StatusUnknown
	}
}

// Wire returns the value persisted and exchanged with the authority.
func (s Status) Wire() string {
	switch s {
	case StatusActive:
		return statusWireActive
	case StatusPending:
		return statusWirePending
	case StatusBlocked:
		return statusWireBlocked
	default:
		return statusWireUnknown
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPending:
		return "pending"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Record is the persisted license state of this host.
type Record struct {
	HardwareID     string
	Serial         string
	MAC            string
	Status         Status
	ValidUntil     *time.Time // UTC midnight
	Modules        []string   // sorted, de-duplicated
	VirtualMachine bool
}

// Empty reports whether the record carries no identity at all.
func (r Record) Empty() bool {
	return r.HardwareID == "" && r.Serial == "" && r.MAC == ""
}

// Registered reports whether the record can be synchronized.
func (r Record) Registered() bool {
	return r.HardwareID != ""
}

// Consistent reports whether HardwareID matches the stored identifiers. A
// record missing either identifier is consistent by definition.
func (r Record) Consistent() bool {
	if r.Serial == "" || r.MAC == "" {
		return true
	}
	return strings.EqualFold(r.HardwareID, ComputeHardwareHash(r.Serial, r.MAC))
}

// HasModule reports whether the remote override grants a feature tag.
func (r Record) HasModule(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, m := range r.Modules {
		if m == tag {
			return true
		}
	}
	return false
}

// persistedRecord is the on-disk JSON shape.
type persistedRecord struct {
	HardwareID      string `json:"hardware_id"`
	CPUSerial       string `json:"cpu_serial,omitempty"`
	MAC             string `json:"mac,omitempty"`
	Status          string `json:"status,omitempty"`
	ValidUntil      string `json:"valid_until,omitempty"`
	ModulesOverride string `json:"modulos_override,omitempty"`
	VirtualMachine  bool   `json:"is_vm,omitempty"`
}

// MarshalJSON encodes the record in the persisted file format.
func (r Record) MarshalJSON() ([]byte, error) {
	p := persistedRecord{
		HardwareID:      r.HardwareID,
		CPUSerial:       r.Serial,
		MAC:             r.MAC,
		ModulesOverride: strings.Join(r.Modules, ","),
		VirtualMachine:  r.VirtualMachine,
	}
	if r.Status != StatusUnknown {
		p.Status = r.Status.Wire()
	}
	if r.ValidUntil != nil {
		p.ValidUntil = r.ValidUntil.UTC().Format(DateLayout)
	}
	return json.Marshal(p)
}

// UnmarshalJSON decodes the persisted file format. Unparseable dates are
// dropped rather than failing the whole record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var p persistedRecord
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record{
		HardwareID:     strings.TrimSpace(p.HardwareID),
		Serial:         NormalizeSerial(p.CPUSerial),
		MAC:            NormalizeMAC(p.MAC),
		Status:         ParseStatus(p.Status),
		ValidUntil:     ParseDate(p.ValidUntil),
		Modules:        ParseModules(p.ModulesOverride),
		VirtualMachine: p.VirtualMachine,
	}
	return nil
}

// ParseDate parses a calendar date as sent by the authority. It accepts
// YYYY-MM-DD and RFC 3339 timestamps (date taken in UTC); anything else,
// including "N/A", yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return &t
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			d := dateOf(t)
			return &d
		}
	}
	return nil
}

// ParseModules splits a comma-separated override list into a sorted set.
func ParseModules(s string) []string {
	return normalizeModules(strings.Split(s, ","))
}

func normalizeModules(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// moduleList accepts either "a,b" or ["a","b"] on the wire.
type moduleList []string

func (m *moduleList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = nil
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = ParseModules(s)
	case '[':
		var tags []string
		if err := json.Unmarshal(data, &tags); err != nil {
			return err
		}
		*m = normalizeModules(tags)
	default:
		return fmt.Errorf("modulos_override: unsupported JSON value %s", data)
	}
	return nil
}

// optionalString accepts a JSON string, null, or a bare scalar rendered as text.
type optionalString string

func (o *optionalString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = optionalString(s)
		return nil
	}
	*o = optionalString(data)
	return nil
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
