// Package results collects the outcome of a harness run: it reads the guest
// console transcript exactly once after the VM ends, classifies it, renders
// the report artifact, and records the run in the local history database.
package results

import (
	"fmt"
	"os"

	"grimm.is/floe/internal/logging"
	"grimm.is/floe/internal/protocol"
)

// Disposition classifies what the console transcript proves.
type Disposition int

const (
	// NoSummary means the transcript never reached the counts line: the
	// guest crashed, hung, or was killed before the suite finished.
	NoSummary Disposition = iota

	// SummaryOnly means the suite finished but at least one case failed.
	SummaryOnly

	// AllPassed means the suite finished with zero failures and emitted
	// the completion sentinel.
	AllPassed
)

func (d Disposition) String() string {
	switch d {
	case AllPassed:
		return "all-passed"
	case SummaryOnly:
		return "completed-with-failures"
	}
	return "incomplete"
}

// Outcome is the collected result of one run.
type Outcome struct {
	Disposition Disposition
	Summary     protocol.Summary
	Transcript  string
}

// Succeeded reports whether the guest suite alone succeeded. The overall
// run verdict additionally requires the propagation check.
func (o *Outcome) Succeeded() bool {
	return o.Disposition == AllPassed
}

// Collect reads the console capture once and classifies it. A missing or
// empty capture is an incomplete run, not an error: the caller still wants
// a report for it.
func Collect(consolePath string) *Outcome {
	log := logging.WithComponent("results")

	data, err := os.ReadFile(consolePath)
	if err != nil {
		log.Warn("console capture unreadable", "path", consolePath, "err", err)
		return &Outcome{Disposition: NoSummary}
	}

	transcript := string(data)
	out := &Outcome{Disposition: NoSummary, Transcript: transcript}

	summary, found := protocol.ParseSummary(transcript)
	if !found {
		log.Warn("no summary line in console capture, guest did not finish")
		return out
	}

	out.Summary = summary
	if summary.Failed == 0 && summary.AllPass {
		out.Disposition = AllPassed
	} else {
		out.Disposition = SummaryOnly
	}

	log.Info("guest suite collected",
		"passed", summary.Passed,
		"failed", summary.Failed,
		"rate", fmt.Sprintf("%.1f%%", summary.PassRate),
		"disposition", out.Disposition.String())
	return out
}
