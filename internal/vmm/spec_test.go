package vmm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grimm.is/floe/internal/config"
	"grimm.is/floe/internal/topology"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	kernel := filepath.Join(dir, "bzImage")
	initrd := filepath.Join(dir, "initramfs.cpio.gz")
	for _, p := range []string{kernel, initrd} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return &config.Config{
		Network: &config.NetworkConfig{Base: "10.0", EndpointPrefix: "icetap"},
		VM: config.VMConfig{
			KernelPath: kernel,
			InitrdPath: initrd,
			Memory:     "4G",
			CPUs:       4,
		},
	}
}

func argString(spec *LaunchSpec) string {
	return strings.Join(spec.Args, " ")
}

func TestBuildSpec(t *testing.T) {
	topo, err := topology.Resolve(2, 2, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)

	spec, err := BuildSpec(topo, cfg, t.TempDir())
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	args := argString(spec)

	t.Run("one netdev per global port", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			want := "tap,id=p" + string(rune('0'+i)) + ",ifname=icetap" + string(rune('0'+i))
			if !strings.Contains(args, want) {
				t.Errorf("args missing %q", want)
			}
		}
		if strings.Contains(args, "id=p4") {
			t.Error("extra netdev beyond topology")
		}
	})

	t.Run("one device per pf with its port slice", func(t *testing.T) {
		if !strings.Contains(args, "e810-vdev,id=pf0,netdev0=p0,mac0=52:54:00:e8:10:10,netdev1=p1,mac1=52:54:00:e8:10:11,vfs_per_port=4") {
			t.Errorf("pf0 device wrong:\n%s", args)
		}
		if !strings.Contains(args, "e810-vdev,id=pf1,netdev0=p2,mac0=52:54:00:e8:10:12,netdev1=p3,mac1=52:54:00:e8:10:13,vfs_per_port=4") {
			t.Errorf("pf1 device wrong:\n%s", args)
		}
	})

	t.Run("topology contract on kernel cmdline", func(t *testing.T) {
		for _, want := range []string{
			"FLOE_PF_COUNT=2",
			"FLOE_PORTS_PER_PF=2",
			"FLOE_VFS_PER_PF=8",
			"FLOE_VFS_PER_PORT=4",
			"FLOE_NET_BASE=10.0",
			"console=ttyS0",
		} {
			if !strings.Contains(args, want) {
				t.Errorf("kernel args missing %q", want)
			}
		}
	})

	t.Run("automated run wiring", func(t *testing.T) {
		if !strings.Contains(args, "-serial file:"+spec.ConsolePath) {
			t.Error("serial console capture not wired")
		}
		if !strings.Contains(args, "unix:"+spec.QMPSocket+",server,nowait") {
			t.Error("control socket not wired")
		}
		if strings.Contains(args, "-nographic") {
			t.Error("automated run must not be interactive")
		}
	})
}

func TestBuildSpecInteractive(t *testing.T) {
	topo, _ := topology.Resolve(1, 2, 4, 2)
	cfg := testConfig(t)
	cfg.VM.Interactive = true

	spec, err := BuildSpec(topo, cfg, t.TempDir())
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	args := argString(spec)

	if !strings.Contains(args, "-nographic") {
		t.Error("interactive run should attach the console")
	}
	if strings.Contains(args, "-qmp") {
		t.Error("interactive run must not claim the control socket")
	}
}

func TestBuildSpecMissingArtifact(t *testing.T) {
	topo, _ := topology.Resolve(1, 2, 4, 2)
	cfg := testConfig(t)
	cfg.VM.KernelPath = filepath.Join(t.TempDir(), "missing")

	_, err := BuildSpec(topo, cfg, t.TempDir())
	if err == nil {
		t.Fatal("expected launch error")
	}
	le, ok := err.(*LaunchError)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if le.Artifact != "kernel" {
		t.Errorf("artifact = %s", le.Artifact)
	}
}

func TestBuildSpecFirmware(t *testing.T) {
	topo, _ := topology.Resolve(1, 2, 4, 2)
	cfg := testConfig(t)

	t.Run("missing package fails", func(t *testing.T) {
		cfg.VM.FirmwarePkg = filepath.Join(t.TempDir(), "ice.pkg")
		if _, err := BuildSpec(topo, cfg, t.TempDir()); err == nil {
			t.Fatal("expected launch error for missing firmware")
		}
	})

	t.Run("present package exposed via fw_cfg", func(t *testing.T) {
		pkg := filepath.Join(t.TempDir(), "ice.pkg")
		if err := os.WriteFile(pkg, []byte("pkg"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg.VM.FirmwarePkg = pkg
		spec, err := BuildSpec(topo, cfg, t.TempDir())
		if err != nil {
			t.Fatalf("BuildSpec: %v", err)
		}
		if !strings.Contains(argString(spec), "name=opt/floe/ice.pkg,file="+pkg) {
			t.Error("firmware package not exposed")
		}
	})
}
