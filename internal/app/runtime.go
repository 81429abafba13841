package app

import (
	"log/slog"
	"os"
	"runtime/debug"
)

// Runtime identifies the running binary in logs and audit records.
type Runtime struct {
	Component string
	Version   string
	Hostname  string
}

// DetectRuntime describes the current process for component.
func DetectRuntime(component string) Runtime {
	rt := Runtime{Component: component, Version: "devel"}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		rt.Version = info.Main.Version
	}
	if host, err := os.Hostname(); err == nil {
		rt.Hostname = host
	}
	return rt
}

// Source is the audit source tag, component@host.
func (r Runtime) Source() string {
	if r.Hostname == "" {
		return r.Component
	}
	return r.Component + "@" + r.Hostname
}

// Attr groups the runtime fields for a logger.
func (r Runtime) Attr() slog.Attr {
	return slog.Group("runtime",
		slog.String("component", r.Component),
		slog.String("version", r.Version),
		slog.String("host", r.Hostname))
}
