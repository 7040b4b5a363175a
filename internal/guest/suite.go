package guest

import (
	"fmt"
	"io"

	"grimm.is/floe/internal/protocol"
)

// RunSuite executes the full validation suite, writing the transcript to w.
// It always reaches the counts line, whatever fails along the way: an
// incomplete transcript means the guest itself died, and the host-side
// collector treats those differently.
func RunSuite(w io.Writer) protocol.Summary {
	r := NewRecorder(w)

	r.Section("params")
	p, err := LoadParams()
	if err != nil {
		r.Failf("topology params", "%v", err)
		return r.Finish()
	}
	r.Pass("topology params")
	r.Infof("%d PF units, %d ports/PF, %d VFs/port, net base %s",
		p.Topo.PFCount, p.Topo.PortsPerPF, p.Topo.VFsPerPort, p.NetBase)

	inv, err := enumerate(r, p)
	if err != nil {
		r.Failf("enumeration", "%v", err)
		return r.Finish()
	}

	// The host starts its link-state trial once it sees this marker.
	fmt.Fprintln(w, protocol.ReadyMarker)

	portDatapath(r, p, inv)
	vfDatapath(r, p, inv)

	r.Section("summary")
	return r.Finish()
}
