// codexmonitord is the workspace session multiplexer daemon: it owns a
// control-plane TCP listener, a registry of agent subprocess sessions, and
// the git-worktree lifecycle that backs them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codexmonitor/daemon/internal/codexerr"
	"github.com/codexmonitor/daemon/internal/config"
	"github.com/codexmonitor/daemon/internal/controlplane"
	"github.com/codexmonitor/daemon/internal/eventsink"
	"github.com/codexmonitor/daemon/internal/logging"
	"github.com/codexmonitor/daemon/internal/persistence"
	"github.com/codexmonitor/daemon/internal/workspace"
	"github.com/codexmonitor/daemon/internal/worktree"
)

func main() {
	os.Exit(run())
}

// run builds and executes the cobra command tree, translating its outcome
// into the exit codes of §6: 0 help/clean shutdown, 2 bad args, 1 fatal.
func run() int {
	root := newRootCmd()

	if err := root.Execute(); err != nil {
		if codexerr.KindOf(err) == codexerr.KindInvalid {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codexmonitord",
		Short: "Workspace session multiplexer daemon",
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	// pflag rejects unknown flags and malformed values (e.g. --listen with
	// no value) before RunE ever runs; without this, that class of error
	// would fall through to exit 1 instead of the "bad args" exit 2 (§6).
	// FlagErrorFunc is inherited by subcommands that don't set their own.
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return codexerr.New(codexerr.KindInvalid, "%v", err)
	})
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	cfg := config.Defaults()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control-plane server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "control-plane listen address")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "persisted-state directory")
	flags.StringVar(&cfg.Token, "token", "", "control-plane auth token")
	flags.BoolVar(&cfg.InsecureNoAuth, "insecure-no-auth", false, "disable auth even if no token is set")
	flags.StringVar(&cfg.AgentBinary, "agent-binary", cfg.AgentBinary, "default agent executable")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or text")

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	cfg.ResolveToken()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetupWithConfig(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logger := slog.Default()

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		return codexerr.Wrap(codexerr.KindIO, err)
	}

	var sink eventsink.Var
	registry, err := workspace.New(store, &sink, cfg.AgentBinary, logger)
	if err != nil {
		return fmt.Errorf("load workspace registry: %w", err)
	}
	wtMgr := worktree.New(registry, store, logger)

	token := cfg.Token
	if cfg.InsecureNoAuth {
		token = ""
	}
	server, err := controlplane.New(cfg.ListenAddr, token, registry, wtMgr, logger)
	if err != nil {
		return fmt.Errorf("start control plane: %w", err)
	}
	sink.Set(server)

	logger.Info("control plane listening", "addr", server.Addr().String())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	return server.Serve(runCtx)
}
