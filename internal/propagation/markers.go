// Package propagation validates the one behavioral invariant under test:
// a link-state transition on a physical port must be observed by the device
// model as a transition fanned out to every VF mapped to that port.
//
// The truth source is the diagnostic capture, where the device model traces
// link transitions and VF notifications:
//
//	e810_set_link port=3 up=0
//	e810_vf_notify port=3 up=0 vfs=32
//	e810_set_link port=3 up=1
//	e810_vf_notify port=3 up=1 vfs=32
package propagation

import (
	"fmt"
	"os"
	"regexp"
)

// Marker names, reported verbatim when missing so a human can search the
// transcript for the exact pattern.
const (
	MarkerPortDown   = "port-down"
	MarkerFanoutDown = "fanout-down"
	MarkerPortUp     = "port-up"
	MarkerFanoutUp   = "fanout-up"
)

type marker struct {
	name string
	re   *regexp.Regexp
}

// markersFor builds the four patterns for a target port. The fan-out
// markers require a nonzero VF count: a transition that reached zero VFs
// did not exercise the invariant.
func markersFor(port int) []marker {
	return []marker{
		{MarkerPortDown, regexp.MustCompile(fmt.Sprintf(`e810_set_link port=%d up=0\b`, port))},
		{MarkerFanoutDown, regexp.MustCompile(fmt.Sprintf(`e810_vf_notify port=%d up=0 vfs=[1-9][0-9]*\b`, port))},
		{MarkerPortUp, regexp.MustCompile(fmt.Sprintf(`e810_set_link port=%d up=1\b`, port))},
		{MarkerFanoutUp, regexp.MustCompile(fmt.Sprintf(`e810_vf_notify port=%d up=1 vfs=[1-9][0-9]*\b`, port))},
	}
}

// scanMissing returns the names of markers absent from data, in marker order.
func scanMissing(data []byte, ms []marker) []string {
	var missing []string
	for _, m := range ms {
		if !m.re.Match(data) {
			missing = append(missing, m.name)
		}
	}
	return missing
}

// fanoutObserved reports whether both nonzero-fanout markers for the port
// are present in the diagnostic capture. Used inside the retry loop, where
// the set_link echoes are implied by the trigger we just issued.
func fanoutObserved(diagPath string, port int) bool {
	data, err := os.ReadFile(diagPath)
	if err != nil {
		return false
	}
	ms := markersFor(port)
	return ms[1].re.Match(data) && ms[3].re.Match(data)
}
