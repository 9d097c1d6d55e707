package licensing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	hexPairPattern = regexp.MustCompile(`[0-9A-Fa-f]{2}`)
	hexRunPattern  = regexp.MustCompile(`[0-9A-Fa-f]{12}`)
)

// HardwareProbe reads raw machine identifiers. Implementations translate
// platform failures into *ProbeError.
type HardwareProbe interface {
	Serial(ctx context.Context) (string, error)
	PrimaryMAC(ctx context.Context) (string, error)
	IsVirtualMachine(ctx context.Context) (bool, error)
}

// HardwareFingerprint is the normalized identity of a host. Empty strings
// mean the identifier is unavailable.
type HardwareFingerprint struct {
	Serial         string `json:"serial"`
	MAC            string `json:"mac"`
	VirtualMachine bool   `json:"is_vm"`
}

// HardwareID returns the license key derived from the fingerprint, or "".
func (f HardwareFingerprint) HardwareID() string {
	return ComputeHardwareHash(f.Serial, f.MAC)
}

// Complete reports whether both identifiers are present.
func (f HardwareFingerprint) Complete() bool {
	return f.Serial != "" && f.MAC != ""
}

// ReadFingerprint probes the host and normalizes what it finds. A partial
// fingerprint is returned together with the first probe error.
func ReadFingerprint(ctx context.Context, probe HardwareProbe) (HardwareFingerprint, error) {
	var fp HardwareFingerprint
	if probe == nil {
		return fp, &ProbeError{Field: "serial", Err: fmt.Errorf("no hardware probe configured")}
	}

	vm, vmErr := probe.IsVirtualMachine(ctx)
	fp.VirtualMachine = vm

	serial, serialErr := probe.Serial(ctx)
	fp.Serial = NormalizeSerial(serial)

	mac, macErr := probe.PrimaryMAC(ctx)
	fp.MAC = NormalizeMAC(mac)

	for _, err := range []error{serialErr, macErr, vmErr} {
		if err != nil {
			return fp, err
		}
	}
	return fp, nil
}

// NormalizeSerial trims and uppercases a platform serial or UUID.
func NormalizeSerial(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeMAC returns the canonical lower-case, colon-separated form of a
// MAC address, or "" when the input does not hold exactly six octets.
func NormalizeMAC(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	pairs := hexPairPattern.FindAllString(raw, -1)
	if len(pairs) != 6 {
		run := hexRunPattern.FindString(raw)
		if run == "" {
			return ""
		}
		pairs = splitPairs(run)
	}
	if len(pairs) != 6 {
		return ""
	}
	return strings.ToLower(strings.Join(pairs, ":"))
}

func splitPairs(s string) []string {
	pairs := make([]string, 0, len(s)/2)
	for i := 0; i+2 <= len(s); i += 2 {
		pairs = append(pairs, s[i:i+2])
	}
	return pairs
}

// ComputeHardwareHash derives the license key for a serial/MAC pair. It
// returns "" when either identifier is missing after normalization.
func ComputeHardwareHash(serial, mac string) string {
	serial = NormalizeSerial(serial)
	mac = NormalizeMAC(mac)
	if serial == "" || mac == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("UUID:" + serial + "|MAC:" + mac))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// HardwareHash is ComputeHardwareHash with an explicit error.
func HardwareHash(serial, mac string) (string, error) {
	id := ComputeHardwareHash(serial, mac)
	if id == "" {
		return "", ErrHashUnavailable
	}
	return id, nil
}
