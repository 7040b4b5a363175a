// Package guest implements the in-VM validation suite. It runs as the guest
// init process, enumerates the emulated device's network functions, exercises
// their datapaths, and reports every assertion over the serial console in the
// protocol the host-side collector understands.
package guest

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"grimm.is/floe/internal/topology"
)

// Params is the guest's view of the contract the host embedded in the kernel
// command line.
type Params struct {
	Topo    *topology.Topology
	NetBase string
}

const defaultNetBase = "10.0"

// LoadParams reads the topology and addressing parameters. The kernel passes
// unrecognized NAME=value command-line words to init as environment
// variables, so the environment is the primary source; /proc/cmdline is the
// fallback for init wrappers that scrub the environment.
func LoadParams() (*Params, error) {
	get := func(name string) string {
		if v := os.Getenv(name); v != "" {
			return v
		}
		return cmdlineVar(name)
	}

	pfCount, err := atoiParam(get, "FLOE_PF_COUNT")
	if err != nil {
		return nil, err
	}
	portsPerPF, err := atoiParam(get, "FLOE_PORTS_PER_PF")
	if err != nil {
		return nil, err
	}
	vfsPerPF, err := atoiParam(get, "FLOE_VFS_PER_PF")
	if err != nil {
		return nil, err
	}
	vfsPerPort, err := atoiParam(get, "FLOE_VFS_PER_PORT")
	if err != nil {
		return nil, err
	}

	topo, err := topology.Resolve(pfCount, portsPerPF, vfsPerPF, vfsPerPort)
	if err != nil {
		return nil, err
	}

	base := get("FLOE_NET_BASE")
	if base == "" {
		base = defaultNetBase
	}

	return &Params{Topo: topo, NetBase: base}, nil
}

func atoiParam(get func(string) string, name string) (int, error) {
	v := get(name)
	if v == "" {
		return 0, fmt.Errorf("guest: %s not set", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("guest: %s: %w", name, err)
	}
	return n, nil
}

func cmdlineVar(name string) string {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return ""
	}
	for _, word := range strings.Fields(string(data)) {
		if v, ok := strings.CutPrefix(word, name+"="); ok {
			return v
		}
	}
	return ""
}
