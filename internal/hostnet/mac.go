package hostnet

import (
	"fmt"
	"net"

	"grimm.is/floe/internal/topology"
)

// Port MACs are deterministic: a fixed locally-administered prefix with the
// global port index added to a fixed offset in the last byte. The guest
// suite inverts this to recover a port's global index without any channel
// other than the interface itself. The offset leaves room for exactly
// topology.MaxTotalPorts indexes in the last byte, and Resolve caps
// topologies at that bound, so every resolved port index renders a valid
// two-digit octet.
const (
	macPrefix   = "52:54:00:e8:10"
	portMACBase = 0x10
)

// PortMAC returns the link-layer address for global port index i. i must be
// below topology.MaxTotalPorts.
func PortMAC(i int) string {
	return fmt.Sprintf("%s:%02x", macPrefix, portMACBase+i)
}

// PortIndexFromMAC recovers the global port index from a deterministic port
// MAC. Returns -1 for addresses outside the scheme.
func PortIndexFromMAC(hw net.HardwareAddr) int {
	if len(hw) != 6 {
		return -1
	}
	want, _ := net.ParseMAC(PortMAC(0))
	for i := 0; i < 5; i++ {
		if hw[i] != want[i] {
			return -1
		}
	}
	idx := int(hw[5]) - portMACBase
	if idx < 0 || idx >= topology.MaxTotalPorts {
		return -1
	}
	return idx
}
