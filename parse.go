package surreallms

import (
	"flag"
	"fmt"
)

const usage = `subcommand required

Usage: surreallms [flags] <command>

Commands:
  migrate   Create tables, analyzers and search indexes
  run       Run the expiry reaper and serve metrics
  reap      Remove expired rows once

Examples:
  surreallms migrate
  surreallms -store redis -search memory run
  surreallms -config lms.yaml -metrics-addr :9100 run
  surreallms -store postgres reap`

// Parse parses command line arguments into the command to execute and the
// configuration shared by all commands. Flags override the config file and
// the environment.
func Parse(args []string) (Command, *Config, error) {
	flagSet := flag.NewFlagSet("surreallms", flag.ContinueOnError)

	var (
		configPath   = flagSet.String("config", "", "Path to a YAML config file")
		store        = flagSet.String("store", "", "Authoritative store: postgres, redis or memory")
		searchStore  = flagSet.String("search", "", "Derived store: surreal or memory")
		postgresDSN  = flagSet.String("postgres-dsn", "", "PostgreSQL connection string")
		redisURL     = flagSet.String("redis-url", "", "Redis URL")
		metricsAddr  = flagSet.String("metrics-addr", "", "Address of the metrics server")
		reapInterval = flagSet.Duration("reap-interval", 0, "Interval between expiry sweeps")
		logLevel     = flagSet.String("log-level", "", "Log level: debug, info, warn or error")
		production   = flagSet.Bool("production", false, "Hide internal error details")
	)

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}

	remainingArgs := flagSet.Args()
	if len(remainingArgs) == 0 {
		return nil, nil, fmt.Errorf(usage)
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		return nil, nil, err
	}

	set := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, dst *string, v string) {
		if set[name] {
			*dst = v
		}
	}
	override("store", &config.Store, *store)
	override("search", &config.Search, *searchStore)
	override("postgres-dsn", &config.PostgresDSN, *postgresDSN)
	override("redis-url", &config.RedisURL, *redisURL)
	override("metrics-addr", &config.MetricsAddr, *metricsAddr)
	override("log-level", &config.LogLevel, *logLevel)
	if set["reap-interval"] {
		config.ReapInterval = *reapInterval
	}
	if set["production"] {
		config.Production = *production
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	var cmd Command
	switch remainingArgs[0] {
	case "migrate":
		cmd = &MigrateCommand{}
	case "run":
		cmd = &RunCommand{MetricsAddr: config.MetricsAddr}
	case "reap":
		cmd = &ReapCommand{}
	default:
		return nil, nil, fmt.Errorf("unknown command: %s\n\nValid commands: migrate, run, reap", remainingArgs[0])
	}
	return cmd, config, nil
}
