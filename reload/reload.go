// reload/reload.go

// Package reload tells the serving process to pick up newly installed
// material. Reload is graceful by contract: the proxy finishes in-flight
// connections on the old certificate while new connections get the new
// one. A proxy that is not running is a no-op, not an error, because a
// cold start reads the installed files directly.
package reload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrReload reports that a running proxy was found but could not be
// signaled, or that a reload command failed.
var ErrReload = errors.New("reload: signal failed")

// Signaler notifies the proxy of new material.
type Signaler interface {
	Notify(ctx context.Context) error
}

// Nop is the Signaler for setups where nothing consumes the material live.
type Nop struct{}

func (Nop) Notify(context.Context) error { return nil }

// Pidfile signals SIGHUP to the process named in a pidfile. A missing
// pidfile or an exited process is treated as "proxy not running".
type Pidfile struct {
	Path   string
	logger *zap.Logger

	// signal is swappable in tests.
	signal func(pid int, sig syscall.Signal) error
}

// NewPidfile builds a Pidfile signaler.
func NewPidfile(path string, logger *zap.Logger) *Pidfile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pidfile{Path: path, logger: logger, signal: sendSignal}
}

func (p *Pidfile) Notify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			p.logger.Info("no pidfile, proxy not running, skipping reload",
				zap.String("pidfile", p.Path))
			return nil
		}
		return fmt.Errorf("%w: read pidfile %s: %v", ErrReload, p.Path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("%w: pidfile %s does not contain a PID", ErrReload, p.Path)
	}

	if err := p.signal(pid, syscall.SIGHUP); err != nil {
		if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
			p.logger.Info("proxy process gone, skipping reload", zap.Int("pid", pid))
			return nil
		}
		return fmt.Errorf("%w: signal pid %d: %v", ErrReload, pid, err)
	}

	p.logger.Info("sent reload signal", zap.Int("pid", pid))
	return nil
}

func sendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// Command runs a configured reload command, e.g. "systemctl reload nginx".
type Command struct {
	Argv    []string
	Timeout time.Duration
	logger  *zap.Logger
}

// NewCommand builds a Command signaler from an argv vector.
func NewCommand(argv []string, timeout time.Duration, logger *zap.Logger) (*Command, error) {
	if len(argv) == 0 {
		return nil, errors.New("reload: empty reload command")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{Argv: argv, Timeout: timeout, logger: logger}, nil
}

func (c *Command) Notify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v (output: %s)",
			ErrReload, strings.Join(c.Argv, " "), err, strings.TrimSpace(string(out)))
	}

	c.logger.Info("reload command succeeded", zap.String("command", strings.Join(c.Argv, " ")))
	return nil
}
