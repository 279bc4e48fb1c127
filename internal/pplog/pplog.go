// Package pplog is a thin github.com/hashicorp/go-hclog wrapper shared by
// every component, grounded on hashicorp-nomad-autoscaler's own direct use
// of hclog.New/hclog.LoggerOptions (e.g. plugins/plugin.go).
package pplog

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// New builds the process-wide logger. name identifies the subsystem (e.g.
// "orchestrator", "runner") in every emitted line's prefix. level defaults
// to hclog.Info when empty or unrecognized.
func New(name, level string, out io.Writer) hclog.Logger {
	if out == nil {
		out = os.Stderr
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		Output:     out,
		JSONFormat: false,
	})
}

// Named returns a sub-logger scoped to a component name, the same pattern
// hclog.Logger.Named is built for and the pack already uses (e.g.
// "orchestrator.attempt").
func Named(parent hclog.Logger, name string) hclog.Logger {
	return parent.Named(name)
}

// Nop is a logger that discards everything; internal/orchestrator falls
// back to it when its Config carries no Logger.
func Nop() hclog.Logger {
	return hclog.NewNullLogger()
}
