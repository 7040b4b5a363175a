package vmm

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/floe/internal/logging"
)

// State is the VM process lifecycle state.
type State int

const (
	NotStarted State = iota
	Running
	Exited
	Killed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	}
	return "unknown"
}

const pollInterval = 2 * time.Second

// VM owns one QEMU child process and its capture streams.
type VM struct {
	Spec *LaunchSpec

	cmd      *exec.Cmd
	diagFile *os.File
	state    State
	done     chan struct{}
	waitErr  error

	log *logging.Logger
}

// MonitorResult summarizes how the VM run ended.
type MonitorResult struct {
	State    State
	TimedOut bool
	Elapsed  time.Duration
}

// New returns a VM for the given launch specification.
func New(spec *LaunchSpec) *VM {
	return &VM{
		Spec:  spec,
		state: NotStarted,
		done:  make(chan struct{}),
		log:   logging.WithComponent("vmm"),
	}
}

// PID returns the child process id, or 0 before launch.
func (v *VM) PID() int {
	if v.cmd == nil || v.cmd.Process == nil {
		return 0
	}
	return v.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (v *VM) State() State {
	return v.state
}

// Start launches the VM detached in its own process group, redirecting the
// diagnostic stream to its capture file. Interactive runs inherit stdio.
func (v *VM) Start() error {
	cmd := exec.Command(v.Spec.Binary, v.Spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if v.Spec.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		diag, err := os.Create(v.Spec.DiagPath)
		if err != nil {
			return fmt.Errorf("vmm: diagnostic capture: %w", err)
		}
		v.diagFile = diag
		cmd.Stdout = diag
		cmd.Stderr = diag
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("vmm: launch: %w", err)
	}

	v.cmd = cmd
	v.state = Running
	v.log.Info("launched", "pid", cmd.Process.Pid, "binary", v.Spec.Binary, "attachments", countNetdevs(v.Spec.Args))

	go func() {
		v.waitErr = cmd.Wait()
		if v.diagFile != nil {
			v.diagFile.Close()
		}
		close(v.done)
	}()

	return nil
}

// Monitor polls liveness at a fixed interval up to the wall-clock timeout.
// onReady is invoked exactly once, when the readiness marker appears in the
// console capture (or after the fallback threshold if it never does). This
// is where the propagation trial runs; it may race with guest-suite
// progress, which the trial tolerates via retry. On timeout the process
// group is forcibly terminated and reaped; partial captures remain usable.
func (v *VM) Monitor(timeout time.Duration, readyMarker string, readyFallback time.Duration, onReady func()) MonitorResult {
	start := time.Now()
	readyFired := false

	for {
		select {
		case <-v.done:
			v.state = Exited
			v.log.Info("vm exited", "elapsed", time.Since(start).Round(time.Second), "err", v.waitErr)
			return MonitorResult{State: Exited, Elapsed: time.Since(start)}
		case <-time.After(pollInterval):
		}

		elapsed := time.Since(start)

		if !readyFired && onReady != nil {
			if v.consoleContains(readyMarker) {
				v.log.Info("readiness marker seen", "elapsed", elapsed.Round(time.Second))
				readyFired = true
				onReady()
			} else if elapsed > readyFallback {
				v.log.Warn("readiness marker never appeared, proceeding anyway", "waited", elapsed.Round(time.Second))
				readyFired = true
				onReady()
			}
		}

		if elapsed > timeout {
			v.log.Error("wall-clock timeout, killing VM", "timeout", timeout)
			v.Kill()
			return MonitorResult{State: Killed, TimedOut: true, Elapsed: time.Since(start)}
		}
	}
}

// Kill forcibly terminates the whole process group and reaps the child.
func (v *VM) Kill() {
	if v.cmd == nil || v.cmd.Process == nil {
		return
	}
	if v.state != Running {
		return
	}
	// Negative pid targets the process group, catching QEMU helpers too.
	if err := unix.Kill(-v.cmd.Process.Pid, unix.SIGKILL); err != nil {
		v.log.Warn("kill failed", "pid", v.cmd.Process.Pid, "err", err)
	}
	<-v.done
	v.state = Killed
}

// TailConsole streams new console lines to the log at debug level. Best
// effort: the console file may not exist until the guest opens the serial
// device.
func (v *VM) TailConsole() {
	go func() {
		var offset int64
		for {
			select {
			case <-v.done:
				return
			case <-time.After(pollInterval):
			}
			data, err := os.ReadFile(v.Spec.ConsolePath)
			if err != nil || int64(len(data)) <= offset {
				continue
			}
			chunk := data[offset:]
			offset = int64(len(data))
			for _, line := range strings.Split(strings.TrimRight(string(chunk), "\n"), "\n") {
				if line != "" {
					v.log.Debug("guest: " + line)
				}
			}
		}
	}()
}

func (v *VM) consoleContains(marker string) bool {
	if marker == "" {
		return false
	}
	data, err := os.ReadFile(v.Spec.ConsolePath)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), marker)
}

func countNetdevs(args []string) int {
	n := 0
	for _, a := range args {
		if a == "-netdev" {
			n++
		}
	}
	return n
}
