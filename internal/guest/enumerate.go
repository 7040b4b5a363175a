package guest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"

	"grimm.is/floe/internal/hostnet"
)

const (
	portDriver = "ice"
	vfDriver   = "iavf"
)

// Port is one enumerated physical-function netdev.
type Port struct {
	Name    string
	Index   int // global port index recovered from the MAC scheme
	BusInfo string
	Driver  string
	Version string
}

// VF is one enumerated virtual-function netdev.
type VF struct {
	Name    string
	Port    int // global port index of the owning physical function
	Slot    int // position within the port's VF range
	BusInfo string
}

// Inventory is the classified set of device functions found in the guest.
type Inventory struct {
	Ports []Port
	VFs   []VF
}

// enumerate scans all netdevs, classifies them by driver, recovers each
// port's global index from its MAC, and maps VFs to their owning port: the
// physfn link names the PF unit, and within a unit VFs are assigned to ports
// in PCI order, VFsPerPort at a time. Every structural expectation the
// topology implies is asserted through the recorder.
func enumerate(r *Recorder, p *Params) (*Inventory, error) {
	r.Section("enumeration")

	eth, err := ethtool.NewEthtool()
	if err != nil {
		return nil, fmt.Errorf("guest: ethtool handle: %w", err)
	}
	defer eth.Close()

	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("guest: list links: %w", err)
	}

	inv := &Inventory{}

	for _, link := range links {
		name := link.Attrs().Name
		info, err := eth.DriverInfo(name)
		if err != nil {
			continue // loopback and other driverless netdevs
		}
		switch info.Driver {
		case portDriver:
			idx := hostnet.PortIndexFromMAC(link.Attrs().HardwareAddr)
			inv.Ports = append(inv.Ports, Port{
				Name:    name,
				Index:   idx,
				BusInfo: info.BusInfo,
				Driver:  info.Driver,
				Version: info.Version,
			})
		case vfDriver:
			inv.VFs = append(inv.VFs, VF{Name: name, Port: -1, BusInfo: info.BusInfo})
		}
	}

	sort.Slice(inv.Ports, func(i, j int) bool { return inv.Ports[i].Index < inv.Ports[j].Index })
	sort.Slice(inv.VFs, func(i, j int) bool { return inv.VFs[i].BusInfo < inv.VFs[j].BusInfo })

	// Ports of one PF unit share a PCI slot; collect each unit's port
	// indexes in ascending order for the VF mapping below.
	slotPorts := map[string][]int{}
	for _, port := range inv.Ports {
		slot := pciSlot(port.BusInfo)
		slotPorts[slot] = append(slotPorts[slot], port.Index)
	}

	if len(inv.Ports) > 0 {
		r.Infof("driver %s %s", inv.Ports[0].Driver, inv.Ports[0].Version)
	}

	r.Check("port count",
		len(inv.Ports) == p.Topo.TotalPorts,
		"found %d %s netdevs, topology expects %d", len(inv.Ports), portDriver, p.Topo.TotalPorts)

	r.Check("vf count",
		len(inv.VFs) == p.Topo.TotalVFs,
		"found %d %s netdevs, topology expects %d", len(inv.VFs), vfDriver, p.Topo.TotalVFs)

	// Each port must carry a MAC from the deterministic scheme, and the set
	// of recovered indexes must be exactly 0..TotalPorts-1.
	seen := map[int]bool{}
	macOK := true
	for _, port := range inv.Ports {
		if port.Index < 0 || port.Index >= p.Topo.TotalPorts || seen[port.Index] {
			r.Failf("port mac scheme", "%s has out-of-scheme or duplicate index %d", port.Name, port.Index)
			macOK = false
			break
		}
		seen[port.Index] = true
	}
	if macOK {
		r.Pass("port mac scheme")
	}

	// Ports are physical functions: none of them may have a physfn link.
	// Every VF must have one, and it must resolve to an enumerated PF unit.
	portsClean := true
	for _, port := range inv.Ports {
		if _, err := os.Readlink(sysfsPhysfn(port.Name)); err == nil {
			r.Failf("pf has no physfn", "%s unexpectedly exposes physfn", port.Name)
			portsClean = false
		}
	}
	if portsClean {
		r.Pass("pf has no physfn")
	}

	// VFs hang off their PF unit VFsPerPort at a time, in PCI order.
	vfSlots := map[int]int{}
	unitPos := map[string]int{}
	vfsMapped := true
	for i := range inv.VFs {
		vf := &inv.VFs[i]
		owner, err := physfnBusInfo(vf.Name)
		if err != nil {
			r.Failf("vf physfn", "%s: %v", vf.Name, err)
			vfsMapped = false
			continue
		}
		slot := pciSlot(owner)
		ports, ok := slotPorts[slot]
		if !ok {
			r.Failf("vf physfn", "%s physfn %s matches no enumerated PF unit", vf.Name, owner)
			vfsMapped = false
			continue
		}
		k := unitPos[slot]
		unitPos[slot]++
		if local := k / p.Topo.VFsPerPort; local < len(ports) {
			vf.Port = ports[local]
			vf.Slot = vfSlots[vf.Port]
			vfSlots[vf.Port]++
		} else {
			r.Failf("vf physfn", "%s is VF %d of unit %s, beyond its port range", vf.Name, k, slot)
			vfsMapped = false
		}
	}
	if vfsMapped {
		r.Pass("vf physfn")
	}

	// Per-port fan-in: every port owns exactly VFsPerPort VFs.
	fanOK := true
	for i := 0; i < p.Topo.TotalPorts; i++ {
		if vfSlots[i] != p.Topo.VFsPerPort {
			r.Failf("vfs per port", "port %d owns %d VFs, expected %d", i, vfSlots[i], p.Topo.VFsPerPort)
			fanOK = false
		}
	}
	if fanOK {
		r.Pass("vfs per port")
	}

	r.Check("pf unit count",
		len(slotPorts) == p.Topo.PFCount,
		"ports span %d PCI slots, topology expects %d PF units", len(slotPorts), p.Topo.PFCount)

	return inv, nil
}

func sysfsPhysfn(name string) string {
	return filepath.Join("/sys/class/net", name, "device", "physfn")
}

// physfnBusInfo resolves a VF netdev to the PCI address of its physical
// function.
func physfnBusInfo(name string) (string, error) {
	target, err := os.Readlink(sysfsPhysfn(name))
	if err != nil {
		return "", fmt.Errorf("no physfn link: %w", err)
	}
	return filepath.Base(target), nil
}

// pciSlot strips the function number from a PCI address.
func pciSlot(busInfo string) string {
	if i := strings.LastIndex(busInfo, "."); i >= 0 {
		return busInfo[:i]
	}
	return busInfo
}
