package results

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConsole(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCollect(t *testing.T) {
	t.Run("all passed", func(t *testing.T) {
		out := Collect(writeConsole(t, `=== SECTION: summary ===
RESULTS: 20 passed, 0 failed (100.0%)
ALL TESTS PASSED
`))
		if out.Disposition != AllPassed {
			t.Errorf("disposition = %s, want all-passed", out.Disposition)
		}
		if !out.Succeeded() {
			t.Error("Succeeded should be true")
		}
	})

	t.Run("completed with failures", func(t *testing.T) {
		out := Collect(writeConsole(t, "RESULTS: 18 passed, 2 failed (90.0%)\n"))
		if out.Disposition != SummaryOnly {
			t.Errorf("disposition = %s, want completed-with-failures", out.Disposition)
		}
		if out.Summary.Failed != 2 {
			t.Errorf("failed = %d", out.Summary.Failed)
		}
		if out.Succeeded() {
			t.Error("Succeeded should be false")
		}
	})

	t.Run("guest died mid run", func(t *testing.T) {
		out := Collect(writeConsole(t, "=== SECTION: port-datapath ===\nPASS: port 0 ping\n"))
		if out.Disposition != NoSummary {
			t.Errorf("disposition = %s, want incomplete", out.Disposition)
		}
	})

	t.Run("missing capture", func(t *testing.T) {
		out := Collect(filepath.Join(t.TempDir(), "nope.log"))
		if out.Disposition != NoSummary {
			t.Errorf("disposition = %s, want incomplete", out.Disposition)
		}
	})

	t.Run("zero failed without sentinel is not a pass", func(t *testing.T) {
		// A forged or truncated transcript with clean counts but no
		// sentinel stays below the highest disposition.
		out := Collect(writeConsole(t, "RESULTS: 20 passed, 0 failed (100.0%)\n"))
		if out.Disposition != SummaryOnly {
			t.Errorf("disposition = %s, want completed-with-failures", out.Disposition)
		}
	})
}
