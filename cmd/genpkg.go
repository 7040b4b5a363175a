package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"grimm.is/floe/internal/ddp"
)

// RunGenPkg generates the DDP firmware package the guest driver needs to
// leave Safe Mode, validates it, and writes it to outPath.
func RunGenPkg(outPath string) error {
	pkg := ddp.Build()
	if err := ddp.Validate(pkg); err != nil {
		return err
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("genpkg: %w", err)
		}
	}
	if err := os.WriteFile(outPath, pkg, 0o644); err != nil {
		return fmt.Errorf("genpkg: %w", err)
	}

	fmt.Printf("wrote %d bytes to %s\n", len(pkg), outPath)
	return nil
}
