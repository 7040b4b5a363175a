// Package topology resolves and validates the device scale parameters for a
// harness run: how many PF instances the VM carries, how many logical ports
// each PF exposes, and how many VFs hang off each PF and each port.
package topology

import (
	"fmt"

	"grimm.is/floe/internal/logging"
)

// MaxPortsPerPF is the emulation ceiling of the device model. A PF unit
// cannot expose more logical ports than this regardless of configuration.
const MaxPortsPerPF = 16

// MaxTotalPorts is the system-wide port ceiling. Both the MAC scheme and the
// IPv4 address scheme encode the global port index in a single byte, and the
// MAC scheme starts at a fixed offset, which leaves 240 usable indexes.
const MaxTotalPorts = 240

// Topology is the resolved scale quadruple plus derived totals.
// Immutable once resolved.
type Topology struct {
	PFCount    int
	PortsPerPF int
	VFsPerPF   int
	VFsPerPort int

	TotalPorts int
	TotalVFs   int
}

// ConfigError reports an invalid topology. It is fatal and raised before any
// other component runs.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("topology: %s: %s", e.Field, e.Reason)
}

// Resolve validates the four scale parameters and computes the derived
// totals. It has no side effects beyond logging the resolved values.
func Resolve(pfCount, portsPerPF, vfsPerPF, vfsPerPort int) (*Topology, error) {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"pf_count", pfCount},
		{"ports_per_pf", portsPerPF},
		{"vfs_per_pf", vfsPerPF},
		{"vfs_per_port", vfsPerPort},
	} {
		if f.value <= 0 {
			return nil, &ConfigError{Field: f.name, Reason: fmt.Sprintf("must be a positive integer, got %d", f.value)}
		}
	}

	if portsPerPF > MaxPortsPerPF {
		return nil, &ConfigError{
			Field:  "ports_per_pf",
			Reason: fmt.Sprintf("%d exceeds the emulation ceiling of %d ports per PF", portsPerPF, MaxPortsPerPF),
		}
	}

	if total := pfCount * portsPerPF; total > MaxTotalPorts {
		return nil, &ConfigError{
			Field:  "pf_count",
			Reason: fmt.Sprintf("%d PFs of %d ports yield %d total ports, exceeding the addressing ceiling of %d", pfCount, portsPerPF, total, MaxTotalPorts),
		}
	}

	if want := portsPerPF * vfsPerPort; vfsPerPF != want {
		return nil, &ConfigError{
			Field:  "vfs_per_pf",
			Reason: fmt.Sprintf("got %d, expected ports_per_pf*vfs_per_port = %d*%d = %d", vfsPerPF, portsPerPF, vfsPerPort, want),
		}
	}

	t := &Topology{
		PFCount:    pfCount,
		PortsPerPF: portsPerPF,
		VFsPerPF:   vfsPerPF,
		VFsPerPort: vfsPerPort,
		TotalPorts: pfCount * portsPerPF,
		TotalVFs:   pfCount * vfsPerPF,
	}

	logging.WithComponent("topology").Info("resolved",
		"pfs", t.PFCount, "ports_per_pf", t.PortsPerPF,
		"vfs_per_pf", t.VFsPerPF, "vfs_per_port", t.VFsPerPort,
		"total_ports", t.TotalPorts, "total_vfs", t.TotalVFs)

	return t, nil
}

// PFForPort returns the PF unit index owning global port i.
func (t *Topology) PFForPort(i int) int {
	return i / t.PortsPerPF
}

// PortWithinPF returns the local port index of global port i within its PF.
func (t *Topology) PortWithinPF(i int) int {
	return i % t.PortsPerPF
}
