package surreallms

// Command is one CLI operation. Parse returns it and Main routes it to the
// matching method on App.
type Command interface {
	// Name returns the CLI sub-command name.
	Name() string
}

// MigrateCommand creates the authoritative tables and the derived store's
// tables, analyzer and search indexes. It is safe to run repeatedly.
//
//	surreallms migrate
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string { return "migrate" }

// RunCommand starts the background expiry reaper and serves /metrics and
// /healthz until the context ends.
//
//	surreallms -store postgres run
type RunCommand struct {
	MetricsAddr string
}

func (c *RunCommand) Name() string { return "run" }

// ReapCommand removes expired rows once and exits. Expired rows are already
// invisible to reads; reaping only reclaims space.
//
//	surreallms reap
type ReapCommand struct{}

func (c *ReapCommand) Name() string { return "reap" }
