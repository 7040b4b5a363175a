package propagation

import (
	"fmt"
	"os"
	"strings"
	"time"

	"grimm.is/floe/internal/logging"
)

// TrialState is the explicit state of the fan-out trial.
type TrialState int

const (
	Idle TrialState = iota
	Triggered
	Observed
	Exhausted
)

func (s TrialState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggered:
		return "triggered"
	case Observed:
		return "observed"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// LinkControl toggles a named network attachment through the control
// channel. Satisfied by qmp.Client.
type LinkControl interface {
	SetLink(name string, up bool) error
}

// HostFallback toggles the underlying host endpoint directly, the
// lower-fidelity substitute when the control socket is unreachable.
// Satisfied by hostnet.Provisioner.
type HostFallback interface {
	SetEndpointUp(index int, up bool) error
}

// Verdict is the outcome of a trial plus the final marker check.
type Verdict struct {
	State    TrialState
	Attempts int
	Path     string // "qmp", "hostlink", or "none"
	Missing  []string
	Disabled bool
}

// Valid reports whether the propagation invariant was demonstrated (or the
// check was administratively disabled).
func (v *Verdict) Valid() bool {
	if v.Disabled {
		return true
	}
	return v.State == Observed && len(v.Missing) == 0
}

// Reason renders a human-searchable explanation for an invalid verdict.
func (v *Verdict) Reason() string {
	if v.Valid() {
		return ""
	}
	if v.State == Idle {
		return "no link trigger was ever attempted"
	}
	if len(v.Missing) > 0 {
		return fmt.Sprintf("missing markers: %s", strings.Join(v.Missing, ", "))
	}
	return fmt.Sprintf("fan-out not observed after %d attempts", v.Attempts)
}

// Validator drives the down/up trial for one target port.
type Validator struct {
	Enabled     bool
	TargetPort  int
	MaxAttempts int
	Settle      time.Duration
	Backoff     time.Duration
	DiagPath    string

	Control  LinkControl
	Fallback HostFallback

	// sleep is swappable in tests.
	sleep func(time.Duration)
	log   *logging.Logger
}

// NewValidator returns a validator with the given trial parameters.
func NewValidator(enabled bool, targetPort, maxAttempts, settleSec, backoffSec int, diagPath string, control LinkControl, fallback HostFallback) *Validator {
	return &Validator{
		Enabled:     enabled,
		TargetPort:  targetPort,
		MaxAttempts: maxAttempts,
		Settle:      time.Duration(settleSec) * time.Second,
		Backoff:     time.Duration(backoffSec) * time.Second,
		DiagPath:    diagPath,
		Control:     control,
		Fallback:    fallback,
		sleep:       time.Sleep,
		log:         logging.WithComponent("propagation"),
	}
}

// Run executes the trial: issue down then up with settle delays, then scan
// the diagnostic capture for both nonzero-fanout markers; back off and
// retry up to the attempt ceiling. Once the control channel fails, the
// remaining attempts use the host endpoint toggle.
func (v *Validator) Run() *Verdict {
	verdict := &Verdict{State: Idle, Path: "none", Disabled: !v.Enabled}
	if !v.Enabled {
		v.log.Info("disabled, trivially valid")
		return verdict
	}

	netdev := fmt.Sprintf("p%d", v.TargetPort)
	useFallback := false

	for attempt := 1; attempt <= v.MaxAttempts; attempt++ {
		verdict.Attempts = attempt

		var err error
		if !useFallback {
			err = v.toggleViaControl(netdev)
			if err != nil {
				v.log.Warn("control channel toggle failed, switching to host endpoint fallback",
					"attempt", attempt, "err", err)
				useFallback = true
				err = v.toggleViaFallback()
			}
		} else {
			err = v.toggleViaFallback()
		}

		if err != nil {
			v.log.Warn("trigger failed", "attempt", attempt, "err", err)
			v.sleep(v.Backoff)
			continue
		}

		if verdict.State == Idle {
			verdict.State = Triggered
		}
		if useFallback {
			verdict.Path = "hostlink"
		} else {
			verdict.Path = "qmp"
		}

		if fanoutObserved(v.DiagPath, v.TargetPort) {
			verdict.State = Observed
			v.log.Info("fan-out observed", "port", v.TargetPort, "attempt", attempt, "path", verdict.Path)
			return verdict
		}

		v.log.Info("fan-out not yet visible, backing off", "attempt", attempt, "of", v.MaxAttempts)
		v.sleep(v.Backoff)
	}

	if verdict.State == Triggered {
		verdict.State = Exhausted
	}
	return verdict
}

func (v *Validator) toggleViaControl(netdev string) error {
	if err := v.Control.SetLink(netdev, false); err != nil {
		return err
	}
	v.sleep(v.Settle)
	if err := v.Control.SetLink(netdev, true); err != nil {
		return err
	}
	v.sleep(v.Settle)
	return nil
}

func (v *Validator) toggleViaFallback() error {
	if v.Fallback == nil {
		return fmt.Errorf("no host endpoint fallback available")
	}
	if err := v.Fallback.SetEndpointUp(v.TargetPort, false); err != nil {
		return err
	}
	v.sleep(v.Settle)
	if err := v.Fallback.SetEndpointUp(v.TargetPort, true); err != nil {
		return err
	}
	v.sleep(v.Settle)
	return nil
}

// FinalCheck re-scans the diagnostic capture after the VM run ends and
// requires all four markers for the target port. Missing patterns are
// reported by name. A trial that never triggered fails regardless of what
// the log contains: stale markers from a previous boot prove nothing.
func (v *Validator) FinalCheck(verdict *Verdict) {
	if verdict.Disabled {
		return
	}
	if verdict.State == Idle {
		verdict.Missing = []string{MarkerPortDown, MarkerFanoutDown, MarkerPortUp, MarkerFanoutUp}
		return
	}

	data, err := os.ReadFile(v.DiagPath)
	if err != nil {
		v.log.Error("diagnostic capture unreadable", "path", v.DiagPath, "err", err)
		data = nil
	}

	verdict.Missing = scanMissing(data, markersFor(v.TargetPort))
	if len(verdict.Missing) == 0 && verdict.State != Observed {
		// The fan-out landed after the last in-loop scan; the final pass is
		// authoritative.
		verdict.State = Observed
	}
	for _, name := range verdict.Missing {
		v.log.Error("required marker absent", "marker", name, "port", v.TargetPort)
	}
}
