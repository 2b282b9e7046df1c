package bot

import (
	"time"

	"github.com/m3rciful/dispatchbot/core/audit"
	"github.com/m3rciful/dispatchbot/core/commands"
)

// ManifestDeps carries what the built-in commands read at execution time.
type ManifestDeps struct {
	Registry DescriptorLister
	Prefix   string
	// Store enables the stats command; nil leaves it out.
	Store audit.Store
	Now   func() time.Time
}

// Manifest lists the bot's commands in registration order.
func Manifest(deps ManifestDeps) commands.Manifest {
	m := commands.Manifest{
		func() commands.Handler { return NewHelpCommand(deps.Registry, deps.Prefix) },
		NewPingCommand,
	}
	if deps.Store != nil {
		m = append(m, func() commands.Handler { return NewStatsCommand(deps.Store, deps.Now) })
	}
	return m
}
