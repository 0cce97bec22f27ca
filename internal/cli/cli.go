// internal/cli/cli.go

// Package cli drives the certward command: a single-cycle run, a status
// report, and a long-running serve mode with a metrics endpoint.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/certward/app"
	"github.com/hearthd/certward/config"
	"github.com/hearthd/certward/logging"
	"github.com/hearthd/certward/server"
)

const usage = `usage: certward <command> [flags]

Commands:
  run           run one certificate lifecycle cycle and exit (default)
  status        report the state of the stored material
  serve         run periodically with a metrics/health endpoint
  service       install, uninstall, start, or stop the system service
  help          show this message

Configuration comes from flags, CERTWARD_* environment variables,
an optional .env file, and an optional config.{yaml,yml,json,toml},
in that order of precedence. Run "certward run --help" for flags.
`

// Run is the process entry point, returning the exit code.
func Run(args []string) int {
	command := "run"
	rest := args
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command = args[0]
		rest = args[1:]
	}

	switch command {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return ExitOK
	case "run", "status", "serve":
		return withApp(command, rest)
	case "service":
		return runService(rest)
	default:
		fmt.Fprintf(os.Stderr, "certward: unknown command %q\n\n%s", command, usage)
		return ExitGeneric
	}
}

// withApp loads config, builds the component graph, and dispatches.
func withApp(command string, args []string) int {
	bootstrap := logging.BootstrapLogger()
	defer bootstrap.Sync()

	cfg, err := config.Load(bootstrap, args)
	if err != nil {
		bootstrap.Error("config load failed", zap.Error(err))
		return ExitGeneric
	}

	logger := logging.MustBuildLogger(cfg.LogLevel, cfg.Env)
	defer logger.Sync()
	logger.Debug("configuration loaded", zap.String("config", cfg.Dump()))

	ctx, cancel := server.WithShutdownSignals(context.Background(), logger)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return ExitGeneric
	}

	switch command {
	case "run":
		return runOnce(ctx, a)
	case "status":
		return printStatus(a)
	case "serve":
		return serve(ctx, a)
	default:
		return ExitGeneric
	}
}

// runOnce executes a single cycle and maps the result onto the exit
// contract.
func runOnce(ctx context.Context, a *app.App) int {
	// The store owns the truth; a drifted runtime copy is repaired before
	// the cycle decides anything.
	if err := a.SyncRuntime(); err != nil {
		a.Logger.Error("runtime sync failed", zap.Error(err))
		return exitCode(err)
	}

	outcome, err := a.Manager.Run(ctx, a.DomainSet)
	if err != nil {
		a.Logger.Error("cycle failed",
			zap.Stringer("decision", outcome.Decision),
			zap.Error(err))
		return exitCode(err)
	}

	if outcome.FellBack {
		a.Logger.Warn("installed self-signed fallback material; public issuance failed",
			zap.String("reason", outcome.FallbackReason))
	}
	a.Logger.Info("cycle succeeded",
		zap.Stringer("decision", outcome.Decision),
		zap.String("source", string(outcome.Source)),
		zap.Time("not_after", outcome.NotAfter))
	return ExitOK
}

// printStatus writes a human-readable summary of the store entry.
func printStatus(a *app.App) int {
	s := a.Status()

	fmt.Printf("domains:      %s\n", s.Domains)
	if !s.Present {
		fmt.Println("material:     absent")
		return ExitOK
	}
	fmt.Printf("source:       %s\n", s.Source)
	if s.IssuerClass != "" {
		fmt.Printf("issuer class: %s\n", s.IssuerClass)
		fmt.Printf("not after:    %s (%d days remaining)\n",
			s.NotAfter.Format(time.RFC3339), s.DaysRemaining)
		if s.RuntimeInSync {
			fmt.Println("runtime:      in sync with store")
		} else {
			fmt.Println("runtime:      DIFFERS from store (run a cycle to repair)")
		}
	}
	if s.Error != "" {
		fmt.Printf("problem:      %s\n", s.Error)
		return ExitGeneric
	}
	return ExitOK
}
