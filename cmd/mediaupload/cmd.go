package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "mediaupload",
		Usage:   "Resumable multipart media uploads to S3 compatible storage",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML or YAML configuration file",
				Sources: cli.EnvVars("MEDIAUPLOAD_CONFIG"),
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files loaded before the environment is read",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Before:   r.setup,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		serveCommand, uploadCommand, filesCommand, sessionsCommand, partsCommand, abortCommand, sweepCommand, initConfigCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// clientFlags are shared by every command that talks to a running server.
func clientFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "Base URL of the upload API (defaults to client.base_url)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print results as JSON",
		},
	}, extra...)
}

func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "upload-id", Usage: "Upload session id", Required: true},
		&cli.StringFlag{Name: "key", Usage: "Object key of the session", Required: true},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the upload API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Override the configured listen port",
			},
		},
		Action: r.Serve,
	}
}

func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a file in parts through the API",
		ArgsUsage: "<file>",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "file"},
		},
		Flags: clientFlags(
			&cli.Int64Flag{Name: "part-size", Usage: "Part size in bytes"},
			&cli.IntFlag{Name: "concurrency", Usage: "Parts uploaded in parallel"},
			&cli.StringFlag{Name: "content-type", Usage: "Content type of the object (guessed when empty)"},
		),
		Action: r.Upload,
	}
}

func filesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "files",
		Usage:  "List finished uploads",
		Flags:  clientFlags(),
		Action: r.Files,
	}
}

func sessionsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "sessions",
		Usage:  "List open upload sessions",
		Flags:  clientFlags(),
		Action: r.Sessions,
	}
}

func partsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "parts",
		Usage:  "List the parts stored for an open session",
		Flags:  clientFlags(sessionFlags()...),
		Action: r.Parts,
	}
}

func abortCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "abort",
		Usage:  "Abort an open session and discard its parts",
		Flags:  clientFlags(sessionFlags()...),
		Action: r.Abort,
	}
}

func sweepCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Abort open sessions older than a cutoff, directly against the store",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Minimum session age",
				Value: 24 * time.Hour,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "List stale sessions without aborting them",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print results as JSON",
			},
		},
		Action: r.Sweep,
	}
}

func initConfigCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "init-config",
		Usage:     "Write the example configuration file",
		ArgsUsage: "[path]",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path", Value: "config.toml"},
		},
		Action: r.InitConfig,
	}
}
