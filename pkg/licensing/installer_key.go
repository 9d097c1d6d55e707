package licensing

import (
	"regexp"
	"strings"
)

var bareMACPattern = regexp.MustCompile(`^[0-9A-Fa-f]{12}$`)

// ParseInstallerKey decodes a manually entered "<SERIAL>_<MAC>" credential.
// The MAC part may carry colons, hyphens or no separator at all.
func ParseInstallerKey(key string) (serial, mac string, ok bool) {
	serialPart, macPart, found := strings.Cut(key, "_")
	if !found {
		return "", "", false
	}

	serial = NormalizeSerial(serialPart)

	bare := strings.TrimSpace(strings.NewReplacer("-", "", ":", "").Replace(macPart))
	if bareMACPattern.MatchString(bare) {
		mac = NormalizeMAC(strings.Join(splitPairs(bare), ":"))
	} else {
		mac = NormalizeMAC(macPart)
	}

	if serial == "" || mac == "" {
		return "", "", false
	}
	return serial, mac, true
}

// FormatInstallerKey is the inverse of ParseInstallerKey. It returns "" when
// either identifier does not normalize.
func FormatInstallerKey(serial, mac string) string {
	serial = NormalizeSerial(serial)
	mac = NormalizeMAC(mac)
	if serial == "" || mac == "" {
		return ""
	}
	return serial + "_" + strings.ToUpper(strings.ReplaceAll(mac, ":", ""))
}
