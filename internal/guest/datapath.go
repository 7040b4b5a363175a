package guest

import (
	"fmt"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/vishvananda/netlink"

	"grimm.is/floe/internal/hostnet"
)

const (
	portProbes   = 3
	vfProbes     = 2
	probeTimeout = 3 * time.Second
	carrierWait  = 10 * time.Second
)

// Indirections over the netlink- and ICMP-backed primitives so the datapath
// logic is testable without real netdevs.
var (
	configure   = configureLink
	sendProbes  = probe
	readPackets = linkPackets
	settleLinks = waitForCarrier
)

// portDatapath addresses every port netdev, brings it up, and probes the
// host endpoint across it. Configuration is phase one for all ports, probing
// phase two, so slow carrier negotiation overlaps instead of serializing.
// Per-port outcomes fold into one aggregate assertion; counter movement is
// informational only, since not every configuration guarantees visible
// counter increments.
func portDatapath(r *Recorder, p *Params, inv *Inventory) {
	r.Section("port-datapath")

	var failed []string
	for _, port := range inv.Ports {
		addr := hostnet.GuestPortAddr(p.NetBase, port.Index) + "/24"
		if err := configure(port.Name, addr); err != nil {
			r.Infof("port %d configure failed: %v", port.Index, err)
			failed = append(failed, fmt.Sprintf("port %d", port.Index))
		}
	}
	settleLinks(r, portNames(inv))

	for _, port := range inv.Ports {
		target := hostnet.HostAddr(p.NetBase, port.Index)
		source := hostnet.GuestPortAddr(p.NetBase, port.Index)
		before := readPackets(port.Name)
		recv, err := sendProbes(target, source, portProbes)
		delta := readPackets(port.Name) - before

		switch {
		case err != nil:
			r.Infof("port %d probe error: %v", port.Index, err)
			failed = append(failed, fmt.Sprintf("port %d", port.Index))
		case recv == 0:
			r.Infof("port %d: no replies from %s over %s", port.Index, target, port.Name)
			failed = append(failed, fmt.Sprintf("port %d", port.Index))
		default:
			r.Infof("port %d: %d/%d replies, counters +%d", port.Index, recv, portProbes, delta)
		}
	}

	r.Check("port datapath",
		len(failed) == 0,
		"%d of %d ports failed: %s", len(failed), len(inv.Ports), strings.Join(failed, ", "))
}

// vfDatapath runs the same two-phase algorithm against every VF, on the
// disjoint address range within each port's subnet, so a VF datapath fault
// cannot hide behind a passing port check.
func vfDatapath(r *Recorder, p *Params, inv *Inventory) {
	r.Section("vf-datapath")

	var failed []string
	for _, vf := range inv.VFs {
		if vf.Port < 0 {
			continue // unmapped, already failed in enumeration
		}
		addr := hostnet.GuestVFAddr(p.NetBase, vf.Port, vf.Slot) + "/24"
		if err := configure(vf.Name, addr); err != nil {
			r.Infof("vf %d.%d configure failed: %v", vf.Port, vf.Slot, err)
			failed = append(failed, fmt.Sprintf("vf %d.%d", vf.Port, vf.Slot))
		}
	}
	settleLinks(r, vfNames(inv))

	for _, vf := range inv.VFs {
		if vf.Port < 0 {
			continue
		}
		target := hostnet.HostAddr(p.NetBase, vf.Port)
		source := hostnet.GuestVFAddr(p.NetBase, vf.Port, vf.Slot)
		before := readPackets(vf.Name)
		recv, err := sendProbes(target, source, vfProbes)
		delta := readPackets(vf.Name) - before

		if err != nil || recv == 0 {
			r.Infof("vf %d.%d: no replies from %s over %s (err=%v)", vf.Port, vf.Slot, target, vf.Name, err)
			failed = append(failed, fmt.Sprintf("vf %d.%d", vf.Port, vf.Slot))
		} else {
			r.Infof("vf %d.%d: %d/%d replies, counters +%d", vf.Port, vf.Slot, recv, vfProbes, delta)
		}
	}

	r.Check("vf datapath",
		len(failed) == 0,
		"%d of %d VFs failed: %s", len(failed), len(inv.VFs), strings.Join(failed, ", "))
}

// configureLink assigns the address, brings the link up, and verifies the
// address actually took.
func configureLink(name, cidr string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return err
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("addr add %s: %w", cidr, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return err
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("addr list: %w", err)
	}
	for _, a := range addrs {
		if a.Equal(*addr) {
			return nil
		}
	}
	return fmt.Errorf("address %s did not take", cidr)
}

// waitForCarrier polls until every named link reports oper up, bounded by
// carrierWait. Links that never come up fail later at the probe, with a
// better message.
func waitForCarrier(r *Recorder, names []string) {
	deadline := time.Now().Add(carrierWait)
	for time.Now().Before(deadline) {
		allUp := true
		for _, name := range names {
			link, err := netlink.LinkByName(name)
			if err != nil || link.Attrs().OperState == netlink.OperDown {
				allUp = false
				break
			}
		}
		if allUp {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	r.Infof("carrier wait expired after %s", carrierWait)
}

// probe sends count ICMP echoes to target from the given source address and
// returns how many replies arrived.
func probe(target, source string, count int) (int, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return 0, err
	}
	pinger.Count = count
	pinger.Timeout = probeTimeout
	pinger.Source = source
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		return 0, err
	}
	return pinger.Statistics().PacketsRecv, nil
}

// linkPackets returns the link's combined RX and TX packet counters.
func linkPackets(name string) uint64 {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0
	}
	if s := link.Attrs().Statistics; s != nil {
		return s.RxPackets + s.TxPackets
	}
	return 0
}

func portNames(inv *Inventory) []string {
	names := make([]string, 0, len(inv.Ports))
	for _, p := range inv.Ports {
		names = append(names, p.Name)
	}
	return names
}

func vfNames(inv *Inventory) []string {
	names := make([]string, 0, len(inv.VFs))
	for _, v := range inv.VFs {
		names = append(names, v.Name)
	}
	return names
}
