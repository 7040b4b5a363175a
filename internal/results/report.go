package results

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"grimm.is/floe/internal/propagation"
	"grimm.is/floe/internal/topology"
)

// Report is the per-run artifact written next to the captures. It is the
// machine-readable record of everything the run decided.
type Report struct {
	RunID     string    `yaml:"run_id"`
	StartedAt time.Time `yaml:"started_at"`
	Duration  string    `yaml:"duration"`

	Topology struct {
		PFCount    int `yaml:"pf_count"`
		PortsPerPF int `yaml:"ports_per_pf"`
		VFsPerPF   int `yaml:"vfs_per_pf"`
		VFsPerPort int `yaml:"vfs_per_port"`
		TotalPorts int `yaml:"total_ports"`
		TotalVFs   int `yaml:"total_vfs"`
	} `yaml:"topology"`

	Guest struct {
		Disposition string  `yaml:"disposition"`
		Passed      int     `yaml:"passed"`
		Failed      int     `yaml:"failed"`
		PassRate    float64 `yaml:"pass_rate"`
	} `yaml:"guest"`

	Propagation struct {
		Enabled  bool     `yaml:"enabled"`
		State    string   `yaml:"state"`
		Attempts int      `yaml:"attempts"`
		Path     string   `yaml:"path"`
		Missing  []string `yaml:"missing_markers,omitempty"`
		Valid    bool     `yaml:"valid"`
	} `yaml:"propagation"`

	Success  bool   `yaml:"success"`
	TimedOut bool   `yaml:"timed_out"`
	Failure  string `yaml:"failure_reason,omitempty"`
}

// BuildReport assembles the report from the run's pieces and computes the
// overall verdict: the run succeeds only when the guest suite fully passed
// AND the propagation invariant held.
func BuildReport(runID string, started time.Time, topo *topology.Topology, out *Outcome, verdict *propagation.Verdict, timedOut bool) *Report {
	r := &Report{
		RunID:     runID,
		StartedAt: started,
		Duration:  time.Since(started).Round(time.Second).String(),
		TimedOut:  timedOut,
	}

	r.Topology.PFCount = topo.PFCount
	r.Topology.PortsPerPF = topo.PortsPerPF
	r.Topology.VFsPerPF = topo.VFsPerPF
	r.Topology.VFsPerPort = topo.VFsPerPort
	r.Topology.TotalPorts = topo.TotalPorts
	r.Topology.TotalVFs = topo.TotalVFs

	r.Guest.Disposition = out.Disposition.String()
	r.Guest.Passed = out.Summary.Passed
	r.Guest.Failed = out.Summary.Failed
	r.Guest.PassRate = out.Summary.PassRate

	r.Propagation.Enabled = !verdict.Disabled
	r.Propagation.State = verdict.State.String()
	r.Propagation.Attempts = verdict.Attempts
	r.Propagation.Path = verdict.Path
	r.Propagation.Missing = verdict.Missing
	r.Propagation.Valid = verdict.Valid()

	r.Success = out.Succeeded() && verdict.Valid() && !timedOut

	switch {
	case timedOut:
		r.Failure = "wall-clock timeout"
	case !out.Succeeded():
		r.Failure = fmt.Sprintf("guest suite %s", out.Disposition)
	case !verdict.Valid():
		r.Failure = verdict.Reason()
	}

	return r
}

// Write renders the report as YAML into dir/report.yaml.
func (r *Report) Write(dir string) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("results: marshal report: %w", err)
	}
	path := filepath.Join(dir, "report.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("results: write report: %w", err)
	}
	return path, nil
}
