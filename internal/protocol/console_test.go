package protocol

import (
	"strings"
	"testing"
)

func TestFormatRecord(t *testing.T) {
	cases := []struct {
		rec  Record
		want string
	}{
		{Record{Case: "port count", Outcome: Pass}, "PASS: port count"},
		{Record{Case: "vf count", Outcome: Fail, Detail: "found 3, topology expects 4"},
			"FAIL: vf count - found 3, topology expects 4"},
		{Record{Case: "driver ice 1.0", Outcome: Info}, "INFO: driver ice 1.0"},
	}
	for _, c := range cases {
		if got := FormatRecord(c.rec); got != c.want {
			t.Errorf("FormatRecord(%+v) = %q, want %q", c.rec, got, c.want)
		}
	}
}

func TestParseSummary(t *testing.T) {
	t.Run("clean run", func(t *testing.T) {
		transcript := strings.Join([]string{
			FormatSection("summary"),
			FormatSummary(Summary{Passed: 12, Failed: 0, PassRate: 100}),
			Sentinel,
		}, "\n")

		s, found := ParseSummary(transcript)
		if !found {
			t.Fatal("summary not found")
		}
		if s.Passed != 12 || s.Failed != 0 {
			t.Errorf("counts = %d/%d", s.Passed, s.Failed)
		}
		if !s.AllPass {
			t.Error("AllPass should be set when the sentinel is present")
		}
		if s.PassRate != 100 {
			t.Errorf("PassRate = %f", s.PassRate)
		}
	})

	t.Run("with failures", func(t *testing.T) {
		s, found := ParseSummary("RESULTS: 9 passed, 3 failed (75.0%)\n")
		if !found {
			t.Fatal("summary not found")
		}
		if s.AllPass {
			t.Error("AllPass must not be set without the sentinel")
		}
		if s.PassRate != 75 {
			t.Errorf("PassRate = %f", s.PassRate)
		}
	})

	t.Run("sentinel without counts does not count", func(t *testing.T) {
		if _, found := ParseSummary(Sentinel); found {
			t.Error("sentinel alone must not parse as a summary")
		}
	})

	t.Run("truncated transcript", func(t *testing.T) {
		if _, found := ParseSummary("PASS: port count\nFAIL: vf co"); found {
			t.Error("truncated transcript must not parse")
		}
	})
}

func TestFormatParseRoundTrip(t *testing.T) {
	line := FormatSummary(Summary{Passed: 7, Failed: 1, PassRate: 87.5})
	s, found := ParseSummary(line)
	if !found || s.Passed != 7 || s.Failed != 1 {
		t.Fatalf("round trip failed: %+v found=%v", s, found)
	}
}
