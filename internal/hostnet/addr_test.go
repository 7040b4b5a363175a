package hostnet

import (
	"net"
	"testing"

	"grimm.is/floe/internal/topology"
)

func TestAddressScheme(t *testing.T) {
	if got := EndpointName("icetap", 3); got != "icetap3" {
		t.Errorf("EndpointName = %q", got)
	}
	if got := Subnet("10.0", 2); got != "10.0.2.0/24" {
		t.Errorf("Subnet = %q", got)
	}
	if got := HostAddr("10.0", 2); got != "10.0.2.1" {
		t.Errorf("HostAddr = %q", got)
	}
	if got := HostCIDR("10.0", 2); got != "10.0.2.1/24" {
		t.Errorf("HostCIDR = %q", got)
	}
	if got := GuestPortAddr("10.0", 2); got != "10.0.2.2" {
		t.Errorf("GuestPortAddr = %q", got)
	}
	if got := HostAddr("10.0", 5); got != "10.0.5.1" {
		t.Errorf("HostAddr(5) = %q", got)
	}
	if got := GuestPortAddr("10.0", 5); got != "10.0.5.2" {
		t.Errorf("GuestPortAddr(5) = %q", got)
	}
	// VF addresses start at .100 so they never collide with the port's .2.
	if got := GuestVFAddr("10.0", 2, 0); got != "10.0.2.100" {
		t.Errorf("GuestVFAddr slot 0 = %q", got)
	}
	if got := GuestVFAddr("10.0", 2, 15); got != "10.0.2.115" {
		t.Errorf("GuestVFAddr slot 15 = %q", got)
	}
}

func TestPortMAC(t *testing.T) {
	if got := PortMAC(0); got != "52:54:00:e8:10:10" {
		t.Errorf("PortMAC(0) = %q", got)
	}
	if got := PortMAC(7); got != "52:54:00:e8:10:17" {
		t.Errorf("PortMAC(7) = %q", got)
	}
	// The highest index a resolvable topology can produce still fits the
	// last byte.
	last := topology.MaxTotalPorts - 1
	got := PortMAC(last)
	if got != "52:54:00:e8:10:ff" {
		t.Errorf("PortMAC(%d) = %q", last, got)
	}
	hw, err := net.ParseMAC(got)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", got, err)
	}
	if idx := PortIndexFromMAC(hw); idx != last {
		t.Errorf("PortIndexFromMAC at ceiling = %d, want %d", idx, last)
	}
}

func TestPortIndexFromMAC(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		for i := 0; i < 8; i++ {
			hw, err := net.ParseMAC(PortMAC(i))
			if err != nil {
				t.Fatalf("ParseMAC: %v", err)
			}
			if got := PortIndexFromMAC(hw); got != i {
				t.Errorf("PortIndexFromMAC(PortMAC(%d)) = %d", i, got)
			}
		}
	})

	t.Run("foreign mac", func(t *testing.T) {
		hw, _ := net.ParseMAC("00:11:22:33:44:55")
		if got := PortIndexFromMAC(hw); got != -1 {
			t.Errorf("foreign MAC resolved to %d, want -1", got)
		}
	})

	t.Run("below scheme base", func(t *testing.T) {
		hw, _ := net.ParseMAC("52:54:00:e8:10:05")
		if got := PortIndexFromMAC(hw); got != -1 {
			t.Errorf("below-base MAC resolved to %d, want -1", got)
		}
	})
}
