package hostnet

import (
	"errors"
	"testing"

	"github.com/vishvananda/netlink"

	"grimm.is/floe/internal/topology"
)

// fakeLinks is an in-memory linkOps. It tracks creations and up/down state
// so reconciliation behavior is observable without a netlink socket.
type fakeLinks struct {
	links   map[string]netlink.Link
	addrs   map[string][]netlink.Addr
	up      map[string]bool
	created int
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		links: make(map[string]netlink.Link),
		addrs: make(map[string][]netlink.Addr),
		up:    make(map[string]bool),
	}
}

func (f *fakeLinks) LinkByName(name string) (netlink.Link, error) {
	link, ok := f.links[name]
	if !ok {
		return nil, errors.New("link not found")
	}
	return link, nil
}

func (f *fakeLinks) LinkAdd(link netlink.Link) error {
	name := link.Attrs().Name
	if _, ok := f.links[name]; ok {
		return errors.New("link exists")
	}
	f.links[name] = link
	f.created++
	return nil
}

func (f *fakeLinks) LinkDel(link netlink.Link) error {
	name := link.Attrs().Name
	delete(f.links, name)
	delete(f.addrs, name)
	delete(f.up, name)
	return nil
}

func (f *fakeLinks) LinkSetUp(link netlink.Link) error {
	f.up[link.Attrs().Name] = true
	return nil
}

func (f *fakeLinks) LinkSetDown(link netlink.Link) error {
	f.up[link.Attrs().Name] = false
	return nil
}

func (f *fakeLinks) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return f.addrs[link.Attrs().Name], nil
}

func (f *fakeLinks) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	name := link.Attrs().Name
	f.addrs[name] = append(f.addrs[name], *addr)
	return nil
}

func (f *fakeLinks) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	name := link.Attrs().Name
	kept := f.addrs[name][:0]
	for _, a := range f.addrs[name] {
		if !a.Equal(*addr) {
			kept = append(kept, a)
		}
	}
	f.addrs[name] = kept
	return nil
}

func (f *fakeLinks) seed(name string, cidrs ...string) {
	f.links[name] = &netlink.Tuntap{LinkAttrs: netlink.LinkAttrs{Name: name}}
	for _, cidr := range cidrs {
		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			panic(err)
		}
		f.addrs[name] = append(f.addrs[name], *addr)
	}
}

func newTestProvisioner(fake *fakeLinks) *Provisioner {
	p := NewProvisioner("10.0", "icetap")
	p.nl = fake
	p.ipForward = func() error { return nil }
	return p
}

func mustResolve(t *testing.T, pfs, ports, vfsPerPF, vfsPerPort int) *topology.Topology {
	t.Helper()
	topo, err := topology.Resolve(pfs, ports, vfsPerPF, vfsPerPort)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return topo
}

func TestProvisionCreatesEndpoints(t *testing.T) {
	fake := newFakeLinks()
	p := newTestProvisioner(fake)
	topo := mustResolve(t, 1, 2, 2, 1)

	eps, err := p.Provision(topo)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("got %d endpoints, want 2", len(eps))
	}
	if fake.created != 2 {
		t.Errorf("created %d links, want 2", fake.created)
	}
	for _, ep := range eps {
		if !fake.up[ep.Name] {
			t.Errorf("%s not up", ep.Name)
		}
		addrs := fake.addrs[ep.Name]
		if len(addrs) != 1 {
			t.Fatalf("%s carries %d addresses, want 1", ep.Name, len(addrs))
		}
		want, _ := netlink.ParseAddr(HostCIDR("10.0", ep.Index))
		if !addrs[0].Equal(*want) {
			t.Errorf("%s carries %s, want %s", ep.Name, addrs[0].String(), want.String())
		}
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	fake := newFakeLinks()
	p := newTestProvisioner(fake)
	topo := mustResolve(t, 1, 2, 2, 1)

	first, err := p.Provision(topo)
	if err != nil {
		t.Fatalf("first Provision: %v", err)
	}
	second, err := p.Provision(topo)
	if err != nil {
		t.Fatalf("second Provision: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("endpoint sets differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("endpoint %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if fake.created != 2 {
		t.Errorf("created %d links across two passes, want 2", fake.created)
	}
	for _, ep := range second {
		if got := len(fake.addrs[ep.Name]); got != 1 {
			t.Errorf("%s carries %d addresses after second pass, want 1", ep.Name, got)
		}
	}
}

func TestProvisionReconcilesSurvivor(t *testing.T) {
	fake := newFakeLinks()
	// Survivor from an unclean prior run: canonical address plus drift.
	fake.seed("icetap0", HostCIDR("10.0", 0), "192.168.9.9/24")
	p := newTestProvisioner(fake)
	topo := mustResolve(t, 1, 1, 1, 1)

	if _, err := p.Provision(topo); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if fake.created != 0 {
		t.Errorf("created %d links, want 0 (survivor adopted)", fake.created)
	}
	addrs := fake.addrs["icetap0"]
	if len(addrs) != 1 {
		t.Fatalf("icetap0 carries %d addresses, want 1", len(addrs))
	}
	want, _ := netlink.ParseAddr(HostCIDR("10.0", 0))
	if !addrs[0].Equal(*want) {
		t.Errorf("icetap0 carries %s, want %s", addrs[0].String(), want.String())
	}
	if !fake.up["icetap0"] {
		t.Error("icetap0 not up")
	}
}

func TestTeardownDeletesEndpoints(t *testing.T) {
	fake := newFakeLinks()
	p := newTestProvisioner(fake)
	topo := mustResolve(t, 1, 2, 2, 1)

	if _, err := p.Provision(topo); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	p.Teardown(topo)
	if len(fake.links) != 0 {
		t.Errorf("%d links remain after teardown", len(fake.links))
	}
}

func TestSetEndpointUp(t *testing.T) {
	fake := newFakeLinks()
	p := newTestProvisioner(fake)
	topo := mustResolve(t, 1, 1, 1, 1)

	if _, err := p.Provision(topo); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := p.SetEndpointUp(0, false); err != nil {
		t.Fatalf("SetEndpointUp(down): %v", err)
	}
	if fake.up["icetap0"] {
		t.Error("icetap0 still up")
	}
	if err := p.SetEndpointUp(0, true); err != nil {
		t.Fatalf("SetEndpointUp(up): %v", err)
	}
	if !fake.up["icetap0"] {
		t.Error("icetap0 not back up")
	}
	if err := p.SetEndpointUp(99, false); err == nil {
		t.Error("missing endpoint did not error")
	}
}
