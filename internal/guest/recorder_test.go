package guest

import (
	"bytes"
	"strings"
	"testing"

	"grimm.is/floe/internal/protocol"
)

func TestRecorderTranscript(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)

	r.Section("enumeration")
	r.Pass("port count")
	r.Infof("driver ice 1.0")
	r.Section("port-datapath")
	r.Failf("port 2 ping", "no replies from 10.0.2.1")
	r.Section("summary")
	s := r.Finish()

	if s.Passed != 1 || s.Failed != 1 {
		t.Errorf("counts = %d/%d", s.Passed, s.Failed)
	}
	if s.AllPass {
		t.Error("AllPass must be false with a failure")
	}

	out := buf.String()
	for _, want := range []string{
		"=== SECTION: enumeration ===",
		"PASS: port count",
		"INFO: driver ice 1.0",
		"FAIL: port 2 ping - no replies from 10.0.2.1",
		"RESULTS: 1 passed, 1 failed (50.0%)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("transcript missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, protocol.Sentinel) {
		t.Error("sentinel must not appear on a failed run")
	}
}

func TestRecorderCleanRun(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)

	r.Section("enumeration")
	r.Pass("port count")
	r.Pass("vf count")
	s := r.Finish()

	if !s.AllPass {
		t.Error("AllPass should be set")
	}
	if !strings.Contains(buf.String(), protocol.Sentinel) {
		t.Error("sentinel missing on a clean run")
	}

	// What the recorder writes, the host collector must parse back.
	parsed, found := protocol.ParseSummary(buf.String())
	if !found {
		t.Fatal("rendered transcript did not parse")
	}
	if parsed.Passed != 2 || parsed.Failed != 0 || !parsed.AllPass {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestRecorderInfoDoesNotScore(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)
	r.Section("params")
	r.Infof("4 ports")
	s := r.Summary()
	if s.Passed != 0 || s.Failed != 0 {
		t.Errorf("info scored: %+v", s)
	}
}

func TestCheck(t *testing.T) {
	var buf bytes.Buffer
	r := NewRecorder(&buf)
	r.Section("enumeration")

	if !r.Check("ok case", true, "unused") {
		t.Error("Check(true) should return true")
	}
	if r.Check("bad case", false, "expected %d", 4) {
		t.Error("Check(false) should return false")
	}
	if !strings.Contains(buf.String(), "FAIL: bad case - expected 4") {
		t.Errorf("transcript:\n%s", buf.String())
	}
}
