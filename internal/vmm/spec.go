// Package vmm builds the QEMU launch specification from the resolved
// topology and manages the virtual machine process lifecycle.
package vmm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grimm.is/floe/internal/config"
	"grimm.is/floe/internal/hostnet"
	"grimm.is/floe/internal/topology"
)

// LaunchError reports a boot artifact missing at launch time. Fatal.
type LaunchError struct {
	Artifact string
	Path     string
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("vmm: %s not found at %s", e.Artifact, e.Path)
}

// LaunchSpec is the fully synthesized QEMU invocation plus the paths the
// harness needs to observe the run.
type LaunchSpec struct {
	Binary      string
	Args        []string
	Interactive bool

	ConsolePath string // primary console transcript (guest-suite truth)
	DiagPath    string // QEMU/device-model stderr (propagation-marker truth)
	QMPSocket   string // control channel, automated runs only
}

// BuildSpec synthesizes the launch specification: one TAP attachment per
// global port, one device-model instance per PF unit carrying its slice of
// ports with deterministic MACs, acceleration, sizing, and console/control
// wiring. It verifies boot artifacts exist before the process is spawned.
func BuildSpec(topo *topology.Topology, cfg *config.Config, artifactsDir string) (*LaunchSpec, error) {
	if _, err := os.Stat(cfg.VM.KernelPath); err != nil {
		return nil, &LaunchError{Artifact: "kernel", Path: cfg.VM.KernelPath}
	}
	if _, err := os.Stat(cfg.VM.InitrdPath); err != nil {
		return nil, &LaunchError{Artifact: "initrd", Path: cfg.VM.InitrdPath}
	}
	if cfg.VM.FirmwarePkg != "" {
		if _, err := os.Stat(cfg.VM.FirmwarePkg); err != nil {
			return nil, &LaunchError{Artifact: "firmware package", Path: cfg.VM.FirmwarePkg}
		}
	}

	spec := &LaunchSpec{
		Binary:      "qemu-system-x86_64",
		Interactive: cfg.VM.Interactive,
		ConsolePath: filepath.Join(artifactsDir, "console.log"),
		DiagPath:    filepath.Join(artifactsDir, "qemu-diag.log"),
		QMPSocket:   filepath.Join(artifactsDir, "qmp.sock"),
	}

	args := []string{
		"-machine", machineType(),
		"-cpu", cpuType(),
		"-smp", fmt.Sprintf("%d", cfg.VM.CPUs),
		"-m", cfg.VM.Memory,
		"-no-reboot",
		"-kernel", cfg.VM.KernelPath,
		"-initrd", cfg.VM.InitrdPath,
		"-append", kernelArgs(topo, cfg),
	}

	// One host TAP attachment per global port. Netdev ids double as the
	// set_link target names on the control channel.
	for i := 0; i < topo.TotalPorts; i++ {
		args = append(args,
			"-netdev", fmt.Sprintf("tap,id=p%d,ifname=%s,script=no,downscript=no",
				i, hostnet.EndpointName(cfg.Network.EndpointPrefix, i)),
		)
	}

	// One device-model instance per PF unit, each carrying its port slice.
	for pf := 0; pf < topo.PFCount; pf++ {
		dev := []string{fmt.Sprintf("e810-vdev,id=pf%d", pf)}
		for k := 0; k < topo.PortsPerPF; k++ {
			global := pf*topo.PortsPerPF + k
			dev = append(dev,
				fmt.Sprintf("netdev%d=p%d", k, global),
				fmt.Sprintf("mac%d=%s", k, hostnet.PortMAC(global)),
			)
		}
		dev = append(dev, fmt.Sprintf("vfs_per_port=%d", topo.VFsPerPort))
		args = append(args, "-device", strings.Join(dev, ","))
	}

	if cfg.VM.FirmwarePkg != "" {
		args = append(args,
			"-fw_cfg", fmt.Sprintf("name=opt/floe/ice.pkg,file=%s", cfg.VM.FirmwarePkg),
		)
	}

	if cfg.VM.Interactive {
		args = append(args, "-nographic")
	} else {
		args = append(args,
			"-display", "none",
			"-serial", fmt.Sprintf("file:%s", spec.ConsolePath),
			"-qmp", fmt.Sprintf("unix:%s,server,nowait", spec.QMPSocket),
		)
	}

	spec.Args = args
	return spec, nil
}

func machineType() string {
	if _, err := os.Stat("/dev/kvm"); err == nil {
		return "q35,accel=kvm"
	}
	return "q35,accel=tcg"
}

func cpuType() string {
	if _, err := os.Stat("/dev/kvm"); err == nil {
		return "host"
	}
	return "qemu64"
}

// kernelArgs embeds the guest-to-host contract: the topology and addressing
// parameters travel as kernel command-line variables, which the kernel
// passes to init as environment variables.
func kernelArgs(topo *topology.Topology, cfg *config.Config) string {
	parts := []string{
		"console=ttyS0",
		"root=/dev/ram0",
		"rw",
		fmt.Sprintf("FLOE_PF_COUNT=%d", topo.PFCount),
		fmt.Sprintf("FLOE_PORTS_PER_PF=%d", topo.PortsPerPF),
		fmt.Sprintf("FLOE_VFS_PER_PF=%d", topo.VFsPerPF),
		fmt.Sprintf("FLOE_VFS_PER_PORT=%d", topo.VFsPerPort),
		fmt.Sprintf("FLOE_NET_BASE=%s", cfg.Network.Base),
	}
	if cfg.VM.Append != "" {
		parts = append(parts, cfg.VM.Append)
	}
	return strings.Join(parts, " ")
}
