package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nicebartender/edi/cmd"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd.SetVersion(fmt.Sprintf("%s (commit: %s)", version, commit))
	if err := cmd.Execute(); err != nil {
		slog.Error("edi failed", "err", err)
		os.Exit(1)
	}
}
