// Package config loads the harness configuration from HCL.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level harness configuration.
type Config struct {
	Topology    TopologyConfig     `hcl:"topology,block"`
	Network     *NetworkConfig     `hcl:"network,block"`
	VM          VMConfig           `hcl:"vm,block"`
	Propagation *PropagationConfig `hcl:"propagation,block"`
	Artifacts   *ArtifactsConfig   `hcl:"artifacts,block"`
}

// TopologyConfig is the raw scale quadruple before resolution.
type TopologyConfig struct {
	PFCount    int `hcl:"pf_count"`
	PortsPerPF int `hcl:"ports_per_pf"`
	VFsPerPF   int `hcl:"vfs_per_pf"`
	VFsPerPort int `hcl:"vfs_per_port"`
}

// NetworkConfig controls host endpoint naming and addressing.
type NetworkConfig struct {
	Base           string `hcl:"base,optional"`            // first two address octets, e.g. "10.0"
	EndpointPrefix string `hcl:"endpoint_prefix,optional"` // TAP name prefix
}

// VMConfig controls the QEMU process.
type VMConfig struct {
	KernelPath  string `hcl:"kernel"`
	InitrdPath  string `hcl:"initrd"`
	FirmwarePkg string `hcl:"firmware_pkg,optional"` // DDP package exposed to the guest
	Memory      string `hcl:"memory,optional"`
	CPUs        int    `hcl:"cpus,optional"`
	Append      string `hcl:"append,optional"` // extra kernel args
	Interactive bool   `hcl:"interactive,optional"`
	TimeoutSec  int    `hcl:"timeout_sec,optional"`
}

// PropagationConfig controls the link-event fan-out validation.
type PropagationConfig struct {
	Enabled          bool `hcl:"enabled,optional"`
	TargetPort       int  `hcl:"target_port,optional"`
	MaxAttempts      int  `hcl:"max_attempts,optional"`
	SettleSec        int  `hcl:"settle_sec,optional"`
	BackoffSec       int  `hcl:"backoff_sec,optional"`
	ReadyFallbackSec int  `hcl:"ready_fallback_sec,optional"`
}

// ArtifactsConfig controls where captures and history land.
type ArtifactsConfig struct {
	Dir       string `hcl:"dir,optional"`
	HistoryDB string `hcl:"history_db,optional"`
}

// Load reads and decodes an HCL config file, then applies defaults and
// validates the non-topology parts. Topology validation is deferred to
// topology.Resolve so the invariant error carries the expected product.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network == nil {
		c.Network = &NetworkConfig{}
	}
	if c.Network.Base == "" {
		c.Network.Base = "10.0"
	}
	if c.Network.EndpointPrefix == "" {
		c.Network.EndpointPrefix = "icetap"
	}

	if c.VM.Memory == "" {
		c.VM.Memory = "4G"
	}
	if c.VM.CPUs == 0 {
		c.VM.CPUs = 4
	}
	if c.VM.TimeoutSec == 0 {
		c.VM.TimeoutSec = 600
	}

	if c.Propagation == nil {
		c.Propagation = &PropagationConfig{Enabled: true}
	}
	if c.Propagation.MaxAttempts == 0 {
		c.Propagation.MaxAttempts = 5
	}
	if c.Propagation.SettleSec == 0 {
		c.Propagation.SettleSec = 2
	}
	if c.Propagation.BackoffSec == 0 {
		c.Propagation.BackoffSec = 3
	}
	if c.Propagation.ReadyFallbackSec == 0 {
		c.Propagation.ReadyFallbackSec = 90
	}

	if c.Artifacts == nil {
		c.Artifacts = &ArtifactsConfig{}
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "build"
	}
	if c.Artifacts.HistoryDB == "" {
		c.Artifacts.HistoryDB = filepath.Join(c.Artifacts.Dir, "floe-history.db")
	}
}

func (c *Config) validate() error {
	if c.VM.KernelPath == "" {
		return fmt.Errorf("config: vm.kernel is required")
	}
	if c.VM.InitrdPath == "" {
		return fmt.Errorf("config: vm.initrd is required")
	}
	if c.Propagation.TargetPort < 0 {
		return fmt.Errorf("config: propagation.target_port must not be negative")
	}
	return nil
}

// EnsureArtifactsDir creates the artifacts directory if needed and returns it.
func (c *Config) EnsureArtifactsDir() (string, error) {
	if err := os.MkdirAll(c.Artifacts.Dir, 0755); err != nil {
		return "", fmt.Errorf("config: artifacts dir: %w", err)
	}
	return c.Artifacts.Dir, nil
}
