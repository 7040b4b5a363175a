package cmd

import (
	"grimm.is/floe/internal/config"
	"grimm.is/floe/internal/hostnet"
	"grimm.is/floe/internal/topology"
)

// RunTeardown removes the host endpoints a previous run left behind. Safe to
// run repeatedly: endpoints that are already gone are skipped.
func RunTeardown(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	topo, err := topology.Resolve(cfg.Topology.PFCount, cfg.Topology.PortsPerPF,
		cfg.Topology.VFsPerPF, cfg.Topology.VFsPerPort)
	if err != nil {
		return err
	}

	prov := hostnet.NewProvisioner(cfg.Network.Base, cfg.Network.EndpointPrefix)
	prov.Teardown(topo)
	return nil
}
