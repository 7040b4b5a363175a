// Package cmd implements the floe subcommands.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"grimm.is/floe/internal/config"
	"grimm.is/floe/internal/hostnet"
	"grimm.is/floe/internal/logging"
	"grimm.is/floe/internal/propagation"
	"grimm.is/floe/internal/protocol"
	"grimm.is/floe/internal/qmp"
	"grimm.is/floe/internal/results"
	"grimm.is/floe/internal/topology"
	"grimm.is/floe/internal/vmm"
)

// RunFailure marks a run that completed its machinery but whose validation
// failed. It distinguishes exit status 1 from setup errors.
type RunFailure struct {
	Reason string
}

func (e *RunFailure) Error() string {
	return "run failed: " + e.Reason
}

// RunRun executes one full harness run: resolve, provision, launch, monitor,
// trial, collect, report, teardown. Teardown happens on every path once
// provisioning has succeeded.
func RunRun(configFile string, interactive bool) error {
	log := logging.WithComponent("run")

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if interactive {
		cfg.VM.Interactive = true
	}

	topo, err := topology.Resolve(cfg.Topology.PFCount, cfg.Topology.PortsPerPF,
		cfg.Topology.VFsPerPF, cfg.Topology.VFsPerPort)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	started := time.Now()
	// Tag everything below with the run ID so interleaved CI runs stay
	// separable in shared logs.
	log = log.WithRun(runID)
	log.Info("run starting",
		"pfs", topo.PFCount, "ports", topo.TotalPorts, "vfs", topo.TotalVFs)

	artifactsDir, err := cfg.EnsureArtifactsDir()
	if err != nil {
		return err
	}

	spec, err := vmm.BuildSpec(topo, cfg, artifactsDir)
	if err != nil {
		return err
	}
	// A stale control socket from a crashed run would block QEMU's bind.
	os.Remove(spec.QMPSocket)

	prov := hostnet.NewProvisioner(cfg.Network.Base, cfg.Network.EndpointPrefix)
	if _, err := prov.Provision(topo); err != nil {
		prov.Teardown(topo)
		return err
	}
	defer prov.Teardown(topo)

	vm := vmm.New(spec)
	if err := vm.Start(); err != nil {
		return err
	}
	defer vm.Kill()

	if cfg.VM.Interactive {
		log.Info("interactive mode, console attached, validation disabled")
		vm.Monitor(time.Duration(cfg.VM.TimeoutSec)*time.Second, "", 0, nil)
		return nil
	}

	vm.TailConsole()

	validator := propagation.NewValidator(
		cfg.Propagation.Enabled,
		cfg.Propagation.TargetPort,
		cfg.Propagation.MaxAttempts,
		cfg.Propagation.SettleSec,
		cfg.Propagation.BackoffSec,
		spec.DiagPath,
		qmp.NewClient(spec.QMPSocket),
		prov,
	)

	// The trial runs concurrently with the guest suite so the monitor's
	// timeout accounting keeps ticking during settle delays.
	verdictCh := make(chan *propagation.Verdict, 1)
	triggered := false
	onReady := func() {
		triggered = true
		go func() { verdictCh <- validator.Run() }()
	}

	result := vm.Monitor(
		time.Duration(cfg.VM.TimeoutSec)*time.Second,
		protocol.ReadyMarker,
		time.Duration(cfg.Propagation.ReadyFallbackSec)*time.Second,
		onReady,
	)

	var verdict *propagation.Verdict
	if triggered {
		verdict = <-verdictCh
	} else {
		verdict = &propagation.Verdict{Path: "none", Disabled: !cfg.Propagation.Enabled}
	}
	validator.FinalCheck(verdict)

	outcome := results.Collect(spec.ConsolePath)
	report := results.BuildReport(runID, started, topo, outcome, verdict, result.TimedOut)

	reportPath, err := report.Write(artifactsDir)
	if err != nil {
		log.Error("report not written", "err", err)
	} else {
		log.Info("report written", "path", reportPath)
	}

	if hist, err := results.OpenHistory(cfg.Artifacts.HistoryDB); err != nil {
		log.Warn("history unavailable", "err", err)
	} else {
		if err := hist.Record(report); err != nil {
			log.Warn("run not recorded", "err", err)
		}
		hist.Close()
	}

	if !report.Success {
		return &RunFailure{Reason: report.Failure}
	}
	fmt.Printf("run %s succeeded: %d passed, propagation %s via %s\n",
		runID, report.Guest.Passed, verdict.State, verdict.Path)
	return nil
}
