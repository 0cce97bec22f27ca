// internal/cli/serve.go
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"

	"github.com/hearthd/certward/app"
	"github.com/hearthd/certward/logging"
	"github.com/hearthd/certward/metrics"
	"github.com/hearthd/certward/server"
)

// serve runs cycles on a timer and exposes the admin endpoints until the
// context is canceled. Cycle failures are logged and retried on the next
// tick rather than terminating the process.
func serve(ctx context.Context, a *app.App) int {
	metrics.RegisterDefault(a.Logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(a.Cfg.Serve.MetricsPort)
		adminErr <- server.ListenAndServe(ctx, addr, server.NewRouter(a.Logger, a.Status), a.Logger)
	}()

	ticker := time.NewTicker(a.Cfg.Serve.CheckInterval)
	defer ticker.Stop()

	runCycle := func() {
		outcome, err := a.Manager.Run(ctx, a.DomainSet)
		if err != nil {
			a.Logger.Error("scheduled cycle failed", zap.Error(err))
			return
		}
		a.Logger.Info("scheduled cycle finished",
			zap.Stringer("decision", outcome.Decision),
			zap.Bool("fell_back", outcome.FellBack))
	}

	// Repair runtime drift, then one cycle at startup and on the interval.
	if err := a.SyncRuntime(); err != nil {
		a.Logger.Error("runtime sync failed", zap.Error(err))
	}
	runCycle()

	for {
		select {
		case <-ctx.Done():
			// Wait for the admin server to shut down cleanly.
			if err := <-adminErr; err != nil {
				a.Logger.Error("admin server failed", zap.Error(err))
				return ExitGeneric
			}
			return ExitOK
		case err := <-adminErr:
			if err != nil {
				a.Logger.Error("admin server failed", zap.Error(err))
				return ExitGeneric
			}
			return ExitOK
		case <-ticker.C:
			runCycle()
		}
	}
}

// program adapts serve mode to the system service manager.
type program struct {
	args []string
	exit chan int
}

func (p *program) Start(service.Service) error {
	go func() {
		p.exit <- withApp("serve", p.args)
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	return nil
}

// runService installs, uninstalls, starts, stops, or runs certward as a
// system service (systemd on linux). Remaining arguments after the action
// become the service's configuration flags.
func runService(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "certward service: need an action: install, uninstall, start, stop, or run")
		return ExitGeneric
	}
	action, rest := args[0], args[1:]

	svcConfig := &service.Config{
		Name:        "certward",
		DisplayName: "certward certificate manager",
		Description: "Keeps TLS certificate material issued, validated, and installed.",
		Arguments:   append([]string{"service", "run"}, rest...),
	}

	prg := &program{args: rest, exit: make(chan int, 1)}
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "certward service: %v\n", err)
		return ExitGeneric
	}

	switch action {
	case "run":
		logger := logging.BootstrapLogger()
		defer logger.Sync()
		if err := svc.Run(); err != nil {
			logger.Error("service run failed", zap.Error(err))
			return ExitGeneric
		}
		select {
		case code := <-prg.exit:
			return code
		default:
			return ExitOK
		}
	case "install", "uninstall", "start", "stop":
		if err := service.Control(svc, action); err != nil {
			fmt.Fprintf(os.Stderr, "certward service %s: %v\n", action, err)
			return ExitGeneric
		}
		fmt.Printf("service %s: done\n", action)
		return ExitOK
	default:
		fmt.Fprintf(os.Stderr, "certward service: unknown action %q\n", action)
		return ExitGeneric
	}
}
