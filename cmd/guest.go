package cmd

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"grimm.is/floe/internal/guest"
	"grimm.is/floe/internal/logging"
)

// RunGuest executes the in-VM validation suite against the serial console.
// When running as init it powers the machine off afterwards so the host
// monitor sees a clean exit instead of a timeout.
func RunGuest() error {
	logging.SetPrefix("floe-guest")
	summary := guest.RunSuite(os.Stdout)

	if os.Getpid() == 1 {
		unix.Sync()
		if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
			// Powering off failed; spin so the kernel does not panic over
			// init exiting. The host timeout will reap the VM.
			fmt.Println("poweroff failed:", err)
			select {}
		}
		return nil
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d cases failed", summary.Failed)
	}
	return nil
}
