// Package hardware reads the machine identifiers a license is bound to.
package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	gohost "github.com/shirou/gopsutil/v4/host"

	"github.com/nanosip/nanosip-license/pkg/licensing"
)

const (
	dmiProductUUID = "/sys/class/dmi/id/product_uuid"
	dmiProductName = "/sys/class/dmi/id/product_name"
	procCPUInfo    = "/proc/cpuinfo"
	sysClassNet    = "/sys/class/net"
)

// Product name fragments reported by common hypervisors.
var vmMarkers = []string{"VMware", "VirtualBox", "KVM", "QEMU"}

var placeholderSerials = map[string]struct{}{
	"":                                     {},
	"NOT SETTABLE":                         {},
	"NOT SPECIFIED":                        {},
	"NOT PRESENT":                          {},
	"00000000-0000-0000-0000-000000000000": {},
	"FFFFFFFF-FFFF-FFFF-FFFF-FFFFFFFFFFFF": {},
}

// SystemReader abstracts OS access for testability.
type SystemReader interface {
	ReadFile(name string) ([]byte, error)
	NetInterfaces() ([]net.Interface, error)
	CommandOutput(ctx context.Context, name string, arg ...string) (string, error)
	HostInfo(ctx context.Context) (*gohost.InfoStat, error)
	Virtualization(ctx context.Context) (system, role string, err error)
}

// NewSystemReader returns a SystemReader that uses real OS calls.
func NewSystemReader() SystemReader {
	return &osReader{}
}

type osReader struct{}

func (r *osReader) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (r *osReader) NetInterfaces() ([]net.Interface, error) {
	return net.Interfaces()
}

func (r *osReader) CommandOutput(ctx context.Context, name string, arg ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, arg...).Output()
	return string(out), err
}

func (r *osReader) HostInfo(ctx context.Context) (*gohost.InfoStat, error) {
	return gohost.InfoWithContext(ctx)
}

func (r *osReader) Virtualization(ctx context.Context) (string, string, error) {
	return gohost.VirtualizationWithContext(ctx)
}

// Probe implements licensing.HardwareProbe on Linux.
type Probe struct {
	reader SystemReader
	iface  string
}

// NewProbe returns a probe that prefers iface when picking the primary MAC.
func NewProbe(reader SystemReader, iface string) *Probe {
	if reader == nil {
		reader = NewSystemReader()
	}
	return &Probe{reader: reader, iface: strings.TrimSpace(iface)}
}

// Serial returns the platform UUID. Sources are tried in order: DMI
// product_uuid, dmidecode, the Raspberry Pi CPU serial, and the host ID
// reported by gopsutil.
func (p *Probe) Serial(ctx context.Context) (string, error) {
	var errs []error

	if data, err := p.reader.ReadFile(dmiProductUUID); err == nil {
		if serial, ok := usableSerial(string(data)); ok {
			return serial, nil
		}
	} else {
		errs = append(errs, err)
	}

	if out, err := p.reader.CommandOutput(ctx, "dmidecode", "-s", "system-uuid"); err == nil {
		if serial, ok := usableSerial(out); ok {
			return serial, nil
		}
	} else {
		errs = append(errs, fmt.Errorf("dmidecode: %w", err))
	}

	if data, err := p.reader.ReadFile(procCPUInfo); err == nil {
		if serial, ok := usableSerial(cpuInfoSerial(string(data))); ok {
			return serial, nil
		}
	}

	if info, err := p.reader.HostInfo(ctx); err == nil && info != nil {
		if serial, ok := usableSerial(info.HostID); ok {
			return serial, nil
		}
	} else if err != nil {
		errs = append(errs, fmt.Errorf("host info: %w", err))
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no usable platform serial found"))
	}
	return "", &licensing.ProbeError{Field: "serial", Err: errors.Join(errs...)}
}

// PrimaryMAC returns the MAC of the configured interface, or of the first
// interface that is up, not loopback and has an Ethernet address.
func (p *Probe) PrimaryMAC(ctx context.Context) (string, error) {
	if p.iface != "" {
		path := filepath.Join(sysClassNet, p.iface, "address")
		if data, err := p.reader.ReadFile(path); err == nil {
			if mac, ok := usableMAC(string(data)); ok {
				return mac, nil
			}
		}
	}

	ifaces, err := p.reader.NetInterfaces()
	if err != nil {
		return "", &licensing.ProbeError{Field: "mac", Err: err}
	}
	for _, iface := range ifaces {
		if iface.Name == p.iface && len(iface.HardwareAddr) == 6 {
			if mac, ok := usableMAC(iface.HardwareAddr.String()); ok {
				return mac, nil
			}
		}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		if mac, ok := usableMAC(iface.HardwareAddr.String()); ok {
			return mac, nil
		}
	}
	return "", &licensing.ProbeError{Field: "mac", Err: errors.New("no interface with a hardware address")}
}

// IsVirtualMachine reports whether the host runs under a hypervisor, using
// the DMI product name and gopsutil's virtualization role.
func (p *Probe) IsVirtualMachine(ctx context.Context) (bool, error) {
	var errs []error

	data, err := p.reader.ReadFile(dmiProductName)
	switch {
	case err == nil:
		name := strings.TrimSpace(string(data))
		for _, marker := range vmMarkers {
			if strings.Contains(name, marker) {
				return true, nil
			}
		}
	case errors.Is(err, os.ErrNotExist):
		// No DMI table, as on ARM boards.
	default:
		errs = append(errs, err)
	}

	system, role, err := p.reader.Virtualization(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if role == "guest" && isHypervisor(system) {
		return true, nil
	}

	if len(errs) == 2 {
		return false, &licensing.ProbeError{Field: "virtualization", Err: errors.Join(errs...)}
	}
	return false, nil
}

// isHypervisor filters out container runtimes, which gopsutil also reports
// with the guest role.
func isHypervisor(system string) bool {
	switch strings.ToLower(system) {
	case "docker", "lxc", "openvz", "podman", "wsl", "linux-vserver", "rkt", "systemd-nspawn", "":
		return false
	default:
		return true
	}
}

func usableSerial(raw string) (string, bool) {
	serial := licensing.NormalizeSerial(raw)
	if _, bad := placeholderSerials[serial]; bad {
		return "", false
	}
	return serial, true
}

func usableMAC(raw string) (string, bool) {
	mac := licensing.NormalizeMAC(raw)
	if mac == "" || mac == "00:00:00:00:00:00" {
		return "", false
	}
	return mac, true
}

func cpuInfoSerial(cpuinfo string) string {
	scanner := bufio.NewScanner(strings.NewReader(cpuinfo))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(key) == "Serial" {
			value = strings.TrimSpace(value)
			if strings.Trim(value, "0") == "" {
				return ""
			}
			return value
		}
	}
	return ""
}
