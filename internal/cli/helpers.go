package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/taskvine/taskvine/internal/config"
	"github.com/taskvine/taskvine/internal/db"
	"github.com/taskvine/taskvine/internal/engine"
	"github.com/taskvine/taskvine/internal/errors"
	"github.com/taskvine/taskvine/internal/storage"
	"github.com/taskvine/taskvine/internal/task"
)

// openEngine builds an engine from the resolved configuration. The caller
// must Close it.
func openEngine() (*engine.Engine, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.LogLevel)
	backend, err := storage.New(storage.Options{
		Dialect:       cfg.Storage.Dialect,
		DSN:           cfg.Storage.DSN,
		CacheCapacity: cfg.Cache.Capacity,
		CacheTTL:      cfg.Cache.TTL,
		Pool: db.PoolConfig{
			MinSize:           cfg.Pool.MinSize,
			MaxSize:           cfg.Pool.MaxSize,
			AcquireTimeout:    cfg.Pool.AcquireTimeout,
			IdlePruneInterval: cfg.Pool.IdlePruneInterval,
			HealthInterval:    cfg.Pool.HealthInterval,
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	return engine.New(backend, engine.Options{
		LockWait:       cfg.Lock.Wait,
		LockTTL:        cfg.Lock.TTL,
		TxnIdleTimeout: cfg.Txn.IdleTimeout,
		DepthWarn:      cfg.Graph.DepthWarn,
		BreadthWarn:    cfg.Graph.BreadthWarn,
		Logger:         log,
	}), nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// printError renders an engine error with its remediation hint.
func printError(err error) {
	if e := errors.AsEngineError(err); e != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", e.What)
		if e.Why != "" {
			fmt.Fprintf(os.Stderr, "  why: %s\n", e.Why)
		}
		if e.Fix != "" {
			fmt.Fprintf(os.Stderr, "  fix: %s\n", e.Fix)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// printTask renders one task as an aligned field list.
func printTask(t *task.Task) {
	fmt.Printf("%-14s %s\n", "path:", t.Path)
	fmt.Printf("%-14s %s\n", "name:", t.Name)
	if t.Description != "" {
		fmt.Printf("%-14s %s\n", "description:", t.Description)
	}
	fmt.Printf("%-14s %s\n", "type:", t.Type)
	fmt.Printf("%-14s %s\n", "status:", t.Status)
	if t.ParentPath != "" {
		fmt.Printf("%-14s %s\n", "parent:", t.ParentPath)
	}
	if len(t.Dependencies) > 0 {
		fmt.Printf("%-14s %s\n", "dependencies:", strings.Join(t.Dependencies, ", "))
	}
	if len(t.Subtasks) > 0 {
		fmt.Printf("%-14s %s\n", "subtasks:", strings.Join(t.Subtasks, ", "))
	}
	fmt.Printf("%-14s %d\n", "version:", t.Version)
	fmt.Printf("%-14s %s\n", "updated:", t.Updated.Format("2006-01-02 15:04:05"))
}

// printTaskLine renders one task as a single list row.
func printTaskLine(t *task.Task) {
	fmt.Printf("%-12s %-40s %s\n", t.Status, t.Path, t.Name)
}

func parseStatusArg(arg string) (task.Status, error) {
	s, ok := task.ParseStatus(strings.ToUpper(arg))
	if !ok {
		return "", fmt.Errorf("unknown status %q (valid: %s)", arg,
			strings.ToLower(joinStatuses()))
	}
	return s, nil
}

func joinStatuses() string {
	all := task.ValidStatuses()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
