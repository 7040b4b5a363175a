// Package hostnet provisions the per-port host-side TAP endpoints the VM
// attaches to, and owns the address scheme shared between the host harness
// and the in-guest validation suite. Every address is a pure function of the
// global port index, so both sides can derive the same expectations from the
// topology alone.
package hostnet

import "fmt"

// DefaultPrefix is the endpoint name prefix. Names must stay inside
// IFNAMSIZ (15 chars), which holds for up to 8 digits of port index.
const DefaultPrefix = "icetap"

// vfHostOffset is the first host byte used for VF guest addresses within a
// port subnet. Port addresses use .1 (host) and .2 (guest primary port); VFs
// start at .100 so the two ranges never collide.
const vfHostOffset = 100

// EndpointName returns the deterministic TAP name for global port index i.
func EndpointName(prefix string, i int) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s%d", prefix, i)
}

// Subnet returns the /24 carrying all traffic for global port index i.
func Subnet(base string, i int) string {
	return fmt.Sprintf("%s.%d.0/24", base, i)
}

// HostAddr returns the host-side address for global port index i.
func HostAddr(base string, i int) string {
	return fmt.Sprintf("%s.%d.1", base, i)
}

// HostCIDR returns the host-side address with its /24 mask.
func HostCIDR(base string, i int) string {
	return HostAddr(base, i) + "/24"
}

// GuestPortAddr returns the guest address assigned to the primary port
// interface for global port index i.
func GuestPortAddr(base string, i int) string {
	return fmt.Sprintf("%s.%d.2", base, i)
}

// GuestVFAddr returns the guest address for VF j of global port index i.
// The VF range is disjoint from the port range so a VF datapath fault cannot
// be masked by a passing port-only check.
func GuestVFAddr(base string, port, j int) string {
	return fmt.Sprintf("%s.%d.%d", base, port, vfHostOffset+j)
}
