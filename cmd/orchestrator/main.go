// Command orchestrator is the controller CLI for the task-execution
// orchestrator (spec.md §6 CLI surface): start/stop/status/restart a
// daemon that holds the MCP connections, the validation pipeline, and
// the workflow machine behind an HTTP entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/taskorch/pkg/config"
	"github.com/kadirpekel/taskorch/pkg/httpapi"
	"github.com/kadirpekel/taskorch/pkg/logger"
	"github.com/kadirpekel/taskorch/pkg/orchestrator"
)

// Exit codes per spec.md §6: 0 success, 2 internal error, 3 missing OS
// permission.
const (
	exitOK         = 0
	exitInternal   = 2
	exitPermission = 3
)

// CLI defines the controller's command-line interface.
type CLI struct {
	Start   StartCmd   `cmd:"" help:"Start the orchestrator daemon in the foreground."`
	Stop    StopCmd    `cmd:"" help:"Stop a running orchestrator daemon."`
	Status  StatusCmd  `cmd:"" help:"Report whether the orchestrator daemon is running."`
	Restart RestartCmd `cmd:"" help:"Stop and restart the orchestrator daemon."`

	Config string `short:"c" help:"Path to config file." type:"path"`
}

// StartCmd starts the daemon and blocks until it's signalled to stop.
type StartCmd struct{}

func (c *StartCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	logOut := os.Stderr
	if cfg.Logger.File != "" {
		f, closeLog, err := logger.OpenLogFile(cfg.Logger.File)
		if err != nil {
			return &exitError{code: exitInternal, err: err}
		}
		defer closeLog()
		logOut = f
	}
	logger.Init(mustLevel(cfg.Logger.Level), logOut, cfg.Logger.Format)
	log := logger.GetLogger()

	if err := writePIDFile(cfg.Server.PIDFile); err != nil {
		if os.IsPermission(err) {
			return &exitError{code: exitPermission, err: err}
		}
		return &exitError{code: exitInternal, err: err}
	}
	defer os.Remove(cfg.Server.PIDFile)

	orch, err := orchestrator.New(cfg, log)
	if err != nil {
		return &exitError{code: exitInternal, err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if err := orch.Start(ctx); err != nil {
		return &exitError{code: exitInternal, err: err}
	}
	defer orch.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := httpapi.NewServer(addr, orch, log)

	log.Info("orchestrator listening", "addr", addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return &exitError{code: exitInternal, err: err}
	}
	return nil
}

// StopCmd signals a running daemon (identified by its PID file) to
// shut down gracefully.
type StopCmd struct{}

func (c *StopCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	pid, err := readPIDFile(cfg.Server.PIDFile)
	if err != nil {
		return &exitError{code: exitInternal, err: fmt.Errorf("daemon not running: %w", err)}
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return &exitError{code: exitInternal, err: err}
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if os.IsPermission(err) {
			return &exitError{code: exitPermission, err: err}
		}
		return &exitError{code: exitInternal, err: err}
	}
	fmt.Printf("sent SIGTERM to pid %d\n", pid)
	return nil
}

// StatusCmd reports whether the daemon's PID file names a live
// process.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	pid, err := readPIDFile(cfg.Server.PIDFile)
	if err != nil {
		fmt.Println("stopped")
		return nil
	}
	if processAlive(pid) {
		fmt.Printf("running (pid %d)\n", pid)
		return nil
	}
	fmt.Println("stopped (stale pid file)")
	return nil
}

// RestartCmd stops any running daemon and reports the steps a caller
// should take to bring it back up, since a CLI process can't hand off
// its own foreground slot to a second invocation of itself.
type RestartCmd struct{}

func (c *RestartCmd) Run(cli *CLI) error {
	stop := &StopCmd{}
	if err := stop.Run(cli); err != nil {
		// Already stopped is not fatal for a restart.
		var ee *exitError
		if !(asExitError(err, &ee) && strings.Contains(ee.err.Error(), "daemon not running")) {
			return err
		}
	}
	fmt.Println("stopped; run 'orchestrator start' to bring the daemon back up")
	return nil
}

func asExitError(err error, target **exitError) bool {
	ee, ok := err.(*exitError)
	if ok {
		*target = ee
	}
	return ok
}

// exitError carries the process exit code spec.md §6 documents
// alongside the underlying error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func loadConfig(path string) (*config.Config, error) {
	_ = config.LoadEnvFiles()
	if path == "" {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, &exitError{code: exitInternal, err: err}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: exitInternal, err: err}
	}
	return cfg, nil
}

func mustLevel(level string) slog.Level {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("orchestrator"),
		kong.Description("Task-execution orchestrator controller"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	if ee, ok := err.(*exitError); ok {
		os.Exit(ee.code)
	}
	os.Exit(exitInternal)
}
