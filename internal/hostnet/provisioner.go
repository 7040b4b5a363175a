package hostnet

import (
	"fmt"
	"os"

	"github.com/vishvananda/netlink"

	"grimm.is/floe/internal/logging"
	"grimm.is/floe/internal/topology"
)

// ProvisionError reports an endpoint that is still missing after a
// provisioning pass. It is fatal and raised before VM launch.
type ProvisionError struct {
	Endpoint string
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("hostnet: endpoint %s missing after provisioning", e.Endpoint)
}

// Endpoint is one host-side TAP attachment for a global port.
type Endpoint struct {
	Index    int
	Name     string
	HostAddr string
	Subnet   string
}

// linkOps is the slice of netlink the provisioner needs. Tests substitute a
// fake; production uses the real socket via netlinkOps.
type linkOps interface {
	LinkByName(name string) (netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
}

type netlinkOps struct{}

func (netlinkOps) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (netlinkOps) LinkAdd(link netlink.Link) error              { return netlink.LinkAdd(link) }
func (netlinkOps) LinkDel(link netlink.Link) error              { return netlink.LinkDel(link) }
func (netlinkOps) LinkSetUp(link netlink.Link) error            { return netlink.LinkSetUp(link) }
func (netlinkOps) LinkSetDown(link netlink.Link) error          { return netlink.LinkSetDown(link) }
func (netlinkOps) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}
func (netlinkOps) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrAdd(link, addr)
}
func (netlinkOps) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrDel(link, addr)
}

// Provisioner creates and reconciles the per-port TAP endpoints.
type Provisioner struct {
	Base   string
	Prefix string

	nl        linkOps
	ipForward func() error
	log       *logging.Logger
}

// NewProvisioner returns a provisioner for the given address base
// (e.g. "10.0") and endpoint name prefix.
func NewProvisioner(base, prefix string) *Provisioner {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Provisioner{
		Base:      base,
		Prefix:    prefix,
		nl:        netlinkOps{},
		ipForward: enableIPForwarding,
		log:       logging.WithComponent("hostnet"),
	}
}

// Endpoints returns the full expected endpoint set for the topology.
func (p *Provisioner) Endpoints(topo *topology.Topology) []Endpoint {
	eps := make([]Endpoint, 0, topo.TotalPorts)
	for i := 0; i < topo.TotalPorts; i++ {
		eps = append(eps, Endpoint{
			Index:    i,
			Name:     EndpointName(p.Prefix, i),
			HostAddr: HostAddr(p.Base, i),
			Subnet:   Subnet(p.Base, i),
		})
	}
	return eps
}

// Provision ensures one TAP endpoint per global port index exists, carries
// exactly its canonical address, and is administratively up. Reconciliation
// is idempotent: a same-named survivor from a prior unclean run is adopted,
// stripped of non-canonical addresses, and reused rather than treated as a
// creation failure.
func (p *Provisioner) Provision(topo *topology.Topology) ([]Endpoint, error) {
	eps := p.Endpoints(topo)

	for _, ep := range eps {
		if err := p.ensureEndpoint(ep); err != nil {
			return nil, fmt.Errorf("hostnet: provisioning %s: %w", ep.Name, err)
		}
	}

	// Routing between port subnets is only needed by a few guest scenarios;
	// failure here is logged, never fatal.
	if err := p.ipForward(); err != nil {
		p.log.Warn("could not enable IP forwarding", "err", err)
	}

	// Re-verify the full set before the VM is allowed to launch.
	for _, ep := range eps {
		if _, err := p.nl.LinkByName(ep.Name); err != nil {
			return nil, &ProvisionError{Endpoint: ep.Name}
		}
	}

	p.log.Info("provisioned endpoints", "count", len(eps), "prefix", p.Prefix, "base", p.Base)
	return eps, nil
}

func (p *Provisioner) ensureEndpoint(ep Endpoint) error {
	link, err := p.nl.LinkByName(ep.Name)
	if err != nil {
		tap := &netlink.Tuntap{
			LinkAttrs: netlink.LinkAttrs{Name: ep.Name},
			Mode:      netlink.TUNTAP_MODE_TAP,
		}
		if err := p.nl.LinkAdd(tap); err != nil {
			return fmt.Errorf("create tap: %w", err)
		}
		link = tap
		p.log.Debug("created endpoint", "name", ep.Name)
	} else {
		p.log.Debug("reusing existing endpoint", "name", ep.Name)
	}

	canonical, err := netlink.ParseAddr(HostCIDR(p.Base, ep.Index))
	if err != nil {
		return fmt.Errorf("parse canonical address: %w", err)
	}

	addrs, err := p.nl.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("list addresses: %w", err)
	}

	haveCanonical := false
	for _, a := range addrs {
		if a.Equal(*canonical) {
			haveCanonical = true
			continue
		}
		// Drift from a prior run; reconcile instead of failing.
		if err := p.nl.AddrDel(link, &a); err != nil {
			p.log.Warn("could not remove stale address", "name", ep.Name, "addr", a.String(), "err", err)
		}
	}

	if !haveCanonical {
		if err := p.nl.AddrAdd(link, canonical); err != nil {
			return fmt.Errorf("assign %s: %w", canonical.String(), err)
		}
	}

	if err := p.nl.LinkSetUp(link); err != nil {
		return fmt.Errorf("set up: %w", err)
	}

	return nil
}

// Teardown deletes every endpoint for the topology. Individual deletion
// failures are logged and do not abort the teardown, so failure artifacts
// from the run stay reachable.
func (p *Provisioner) Teardown(topo *topology.Topology) {
	for _, ep := range p.Endpoints(topo) {
		link, err := p.nl.LinkByName(ep.Name)
		if err != nil {
			continue
		}
		if err := p.nl.LinkDel(link); err != nil {
			p.log.Warn("could not delete endpoint", "name", ep.Name, "err", err)
		}
	}
	p.log.Info("tore down endpoints", "count", topo.TotalPorts)
}

// SetEndpointUp toggles the administrative state of a single endpoint. This
// is the lower-fidelity fallback used when the control socket is
// unreachable: flapping the host TAP makes the device model observe a
// carrier change without going through its control channel.
func (p *Provisioner) SetEndpointUp(index int, up bool) error {
	name := EndpointName(p.Prefix, index)
	link, err := p.nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("hostnet: %s: %w", name, err)
	}
	if up {
		return p.nl.LinkSetUp(link)
	}
	return p.nl.LinkSetDown(link)
}

func enableIPForwarding() error {
	return os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1\n"), 0644)
}
