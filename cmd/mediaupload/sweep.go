package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/stefando/mediaupload/internal/config"
	"github.com/stefando/mediaupload/internal/upload"
)

// Sweep aborts open sessions older than --older-than. It talks to the
// store directly, so it needs the storage section of the config.
func (r *Runner) Sweep(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.service(ctx)
	if err != nil {
		return err
	}
	olderThan := cmd.Duration("older-than")

	if cmd.Bool("dry-run") {
		sessions, err := svc.ListSessions(ctx)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-olderThan)
		stale := []upload.OpenSession{}
		for _, s := range sessions {
			if s.Initiated.Before(cutoff) {
				stale = append(stale, s)
			}
		}
		r.logger.Info("dry run", "stale", len(stale), "open", len(sessions))
		return r.writeSessions(stale, cmd.Bool("json"))
	}

	aborted, err := svc.SweepStale(ctx, olderThan)
	if werr := r.writeSessions(aborted, cmd.Bool("json")); werr != nil && err == nil {
		err = werr
	}
	return err
}

// InitConfig writes the example configuration file.
func (r *Runner) InitConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		path = "config.toml"
	}
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)
	return r.writePlain("created %s\n", path)
}
