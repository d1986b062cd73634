package surreallms

import (
	"context"
	"fmt"
)

// Main parses args, opens the application and executes the command. It can
// be called from tests without building the binary.
//
// # Environment Variables
//
//	LMS_STORE         - authoritative store: postgres, redis or memory (default: postgres)
//	LMS_SEARCH        - derived store: surreal or memory (default: surreal)
//	LMS_POSTGRES_DSN  - PostgreSQL connection string
//	LMS_REDIS_URL     - Redis URL
//	LMS_METRICS_ADDR  - metrics listen address (default: :9090)
//	LMS_LOG_LEVEL     - debug, info, warn or error (default: info)
//	LMS_PRODUCTION    - hide internal error details from clients
//	SURREALDB_URL     - SurrealDB URL (default: ws://localhost:8000/rpc)
//	SURREALDB_NS      - SurrealDB namespace (default: lms)
//	SURREALDB_DB      - SurrealDB database (default: lms)
//	SURREALDB_USER    - SurrealDB username (default: root)
//	SURREALDB_PASS    - SurrealDB password (default: root)
//
// A .env file in the working directory is loaded first and flags override
// everything.
func Main(ctx context.Context, args []string) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	app, err := Open(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	switch c := cmd.(type) {
	case *MigrateCommand:
		if err := app.Migrate(ctx, c); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case *RunCommand:
		if err := app.Run(ctx, c); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case *ReapCommand:
		if _, err := app.Reap(ctx, c); err != nil {
			return fmt.Errorf("reap failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
	return nil
}
