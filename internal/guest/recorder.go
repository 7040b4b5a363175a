package guest

import (
	"fmt"
	"io"

	"grimm.is/floe/internal/protocol"
)

// Recorder accumulates typed assertion records and renders each one to the
// console as it is made. The rendered text is the wire format the host-side
// collector parses, so every line goes through the protocol package.
type Recorder struct {
	w       io.Writer
	section string
	records []protocol.Record
	passed  int
	failed  int
}

// NewRecorder returns a recorder writing to w (the guest console).
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Section starts a named section.
func (r *Recorder) Section(name string) {
	r.section = name
	fmt.Fprintln(r.w, protocol.FormatSection(name))
}

// Pass records a passing case.
func (r *Recorder) Pass(name string) {
	r.add(protocol.Record{Section: r.section, Case: name, Outcome: protocol.Pass})
}

// Failf records a failing case with a reason.
func (r *Recorder) Failf(name, format string, args ...any) {
	r.add(protocol.Record{Section: r.section, Case: name, Outcome: protocol.Fail, Detail: fmt.Sprintf(format, args...)})
}

// Infof records a non-scoring informational line.
func (r *Recorder) Infof(format string, args ...any) {
	r.add(protocol.Record{Section: r.section, Case: fmt.Sprintf(format, args...), Outcome: protocol.Info})
}

// Check records pass or fail in one call.
func (r *Recorder) Check(name string, ok bool, format string, args ...any) bool {
	if ok {
		r.Pass(name)
	} else {
		r.Failf(name, format, args...)
	}
	return ok
}

func (r *Recorder) add(rec protocol.Record) {
	r.records = append(r.records, rec)
	switch rec.Outcome {
	case protocol.Pass:
		r.passed++
	case protocol.Fail:
		r.failed++
	}
	fmt.Fprintln(r.w, protocol.FormatRecord(rec))
}

// Failed reports whether any case failed so far.
func (r *Recorder) Failed() bool {
	return r.failed > 0
}

// Records returns all records made so far.
func (r *Recorder) Records() []protocol.Record {
	return r.records
}

// Summary returns the current aggregate counts.
func (r *Recorder) Summary() protocol.Summary {
	s := protocol.Summary{Passed: r.passed, Failed: r.failed}
	if total := r.passed + r.failed; total > 0 {
		s.PassRate = 100 * float64(r.passed) / float64(total)
	}
	s.AllPass = r.failed == 0 && r.passed > 0
	return s
}

// Finish renders the counts line and, only on a clean run, the completion
// sentinel. Returns the summary.
func (r *Recorder) Finish() protocol.Summary {
	s := r.Summary()
	fmt.Fprintln(r.w, protocol.FormatSummary(s))
	if s.AllPass {
		fmt.Fprintln(r.w, protocol.Sentinel)
	}
	return s
}
