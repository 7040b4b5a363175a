// Package protocol defines the line-oriented text protocol the guest
// validation suite emits on its console and the host-side collector parses.
// It is intentionally human-readable: the same transcript serves automated
// collection and a person watching an interactive boot.
package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Outcome classifies one assertion record.
type Outcome string

const (
	Pass Outcome = "PASS"
	Fail Outcome = "FAIL"
	Info Outcome = "INFO"
)

// Fixed vocabulary of the console protocol.
const (
	// ReadyMarker is printed once enumeration has finished; the host uses
	// it to start the propagation trial opportunistically.
	ReadyMarker = "FLOE-READY"

	// Sentinel is emitted only when the failure count is exactly zero.
	Sentinel = "ALL TESTS PASSED"

	sectionPrefix = "=== SECTION: "
	sectionSuffix = " ==="
	summaryPrefix = "RESULTS: "
)

// Record is one typed assertion outcome. Console text is a pure rendering
// of these records; nothing is printed that is not backed by one.
type Record struct {
	Section string
	Case    string
	Outcome Outcome
	Detail  string
}

// Summary aggregates a full suite run.
type Summary struct {
	Passed   int
	Failed   int
	PassRate float64
	AllPass  bool
}

// FormatSection renders a section header line.
func FormatSection(name string) string {
	return sectionPrefix + name + sectionSuffix
}

// FormatRecord renders one assertion status line.
func FormatRecord(r Record) string {
	switch r.Outcome {
	case Fail:
		return fmt.Sprintf("FAIL: %s - %s", r.Case, r.Detail)
	case Info:
		if r.Detail != "" {
			return fmt.Sprintf("INFO: %s - %s", r.Case, r.Detail)
		}
		return fmt.Sprintf("INFO: %s", r.Case)
	default:
		return fmt.Sprintf("PASS: %s", r.Case)
	}
}

// FormatSummary renders the final counts line.
func FormatSummary(s Summary) string {
	return fmt.Sprintf("%s%d passed, %d failed (%.1f%%)", summaryPrefix, s.Passed, s.Failed, s.PassRate)
}

var summaryRe = regexp.MustCompile(`RESULTS: (\d+) passed, (\d+) failed`)

// ParseSummary extracts the counts line from a console transcript. The
// second return value reports whether any summary was found at all.
func ParseSummary(transcript string) (Summary, bool) {
	m := summaryRe.FindStringSubmatch(transcript)
	if m == nil {
		return Summary{}, false
	}
	passed, _ := strconv.Atoi(m[1])
	failed, _ := strconv.Atoi(m[2])
	s := Summary{Passed: passed, Failed: failed}
	if total := passed + failed; total > 0 {
		s.PassRate = 100 * float64(passed) / float64(total)
	}
	s.AllPass = strings.Contains(transcript, Sentinel)
	return s, true
}
