package results

import (
	"fmt"
	"testing"
	"time"
)

func testReport(id string, success bool) *Report {
	r := &Report{RunID: id, StartedAt: time.Now(), Duration: "1m30s", Success: success}
	r.Topology.PFCount = 1
	r.Topology.PortsPerPF = 4
	r.Topology.VFsPerPort = 16
	r.Guest.Passed = 20
	if !success {
		r.Guest.Failed = 2
		r.Failure = "guest suite completed-with-failures"
	}
	r.Propagation.State = "observed"
	return r
}

func TestHistory(t *testing.T) {
	hist, err := OpenHistory(":memory:")
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	defer hist.Close()

	for i := 0; i < 3; i++ {
		r := testReport(fmt.Sprintf("run-%d", i), i != 1)
		r.StartedAt = time.Now().Add(time.Duration(i) * time.Minute)
		if err := hist.Record(r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := hist.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	// Newest first.
	if entries[0].RunID != "run-2" {
		t.Errorf("first entry = %s, want run-2", entries[0].RunID)
	}
	if entries[1].Success {
		t.Error("run-1 should be recorded as failed")
	}
	if entries[1].Failure == "" {
		t.Error("failure reason should survive the round trip")
	}

	t.Run("limit", func(t *testing.T) {
		entries, err := hist.List(2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("len = %d, want 2", len(entries))
		}
	})

	t.Run("duplicate run id rejected", func(t *testing.T) {
		if err := hist.Record(testReport("run-0", true)); err == nil {
			t.Error("duplicate run_id should fail")
		}
	})
}
