// cmd/cfrelease/main.go
//
// Entry point of the release runbook. `cfrelease build` stages a release on
// the development site; `cfrelease push` promotes it. Both walk the operator
// through numbered steps and stop at the first failure.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/cfrelease/internal/config"
	"github.com/kingrea/cfrelease/internal/console"
	"github.com/kingrea/cfrelease/internal/logbook"
	"github.com/kingrea/cfrelease/internal/logging"
	"github.com/kingrea/cfrelease/internal/pipeline"
	"github.com/kingrea/cfrelease/internal/prompt"
	"github.com/kingrea/cfrelease/internal/shell"
	"github.com/kingrea/cfrelease/internal/tui"
	"github.com/kingrea/cfrelease/internal/workspace"
)

// skipSetup marks commands that need no configuration or scratch tree.
const skipSetup = "skip-setup"

var (
	// Global flags
	configPath string
	overrides  = keyValueFlag{}
	debug      bool
	auto       bool
	plain      bool

	// Set up by PersistentPreRunE.
	env *environment
)

// environment is everything a command needs, built once per invocation.
type environment struct {
	cfg      *config.Config
	ws       *workspace.Workspace
	logger   *zap.Logger
	closeLog func() error
	journal  *logbook.Logbook
	exec     *shell.Executor
	console  *console.Console
	prompter *prompt.Prompter
	runID    string
}

func (e *environment) deps() pipeline.Deps {
	return pipeline.Deps{
		Config:    e.cfg,
		Workspace: e.ws,
		Shell:     e.exec,
		Tools:     e.exec,
		Prompt:    e.prompter,
		Console:   e.console,
		Journal:   e.journal,
		Logger:    e.logger,
		HTTP:      &http.Client{},
		RunID:     e.runID,
	}
}

var rootCmd = &cobra.Command{
	Use:   "cfrelease",
	Short: "Guided release of the Checker Framework",
	Long: `cfrelease walks a release manager through building, checking and publishing a
Checker Framework release.

  cfrelease build all      stage the release on the development site
  cfrelease push           rehearse the push without side effects
  cfrelease push release   publish for real`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipSetup] != "" {
			return nil
		}
		e, err := setup(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		env = e
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if env != nil && env.closeLog != nil {
			_ = env.closeLog()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CFRELEASE_CONFIG or ~/.cfrelease/config.yaml)")
	rootCmd.PersistentFlags().Var(&overrides, "set", "config override (key=value, repeatable)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level and copy the log to stderr")
	rootCmd.PersistentFlags().BoolVar(&auto, "auto", false, "accept the default answer of every prompt")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "no colors or markdown rendering")

	rootCmd.AddCommand(buildCmd, pushCmd, linksCmd, sanityCmd, nextVersionCmd, statusCmd)
}

func setup(out io.Writer) (*environment, error) {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := cfg.Apply(overrides); err != nil {
			return nil, err
		}
	}

	ws := workspace.New(cfg.ScratchDir())
	if err := ws.Init(); err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.New(logging.Options{Path: ws.LogPath(), Debug: debug})
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	journal, err := logbook.New(ws.JournalPath(), runID)
	if err != nil {
		_ = closeLog()
		return nil, err
	}
	logger = logger.With(zap.String("run", runID))
	logger.Info("cfrelease started", zap.String("config", cfg.Path), zap.String("scratch", ws.Root()))

	envCfg := cfg.Release.Environment
	exec := shell.New(shell.Environment{PathPrepend: envCfg.PathPrepend, Vars: envCfg.Vars},
		shell.WithOutput(out),
		shell.WithLogger(logger))

	var consoleOpts []console.Option
	interactive := tui.IsTerminal(os.Stdin) && tui.IsTerminal(os.Stdout)
	if plain || !interactive {
		consoleOpts = append(consoleOpts, console.WithPlain())
	}
	var prompter *prompt.Prompter
	if interactive && !plain {
		prompter = prompt.New(tui.NewReader(os.Stdin, out), out, prompt.WithAuto(auto), prompt.WithReaderRendersQuestion())
	} else {
		prompter = prompt.New(prompt.NewScannerReader(os.Stdin), out, prompt.WithAuto(auto))
	}

	return &environment{
		cfg:      cfg,
		ws:       ws,
		logger:   logger,
		closeLog: closeLog,
		journal:  journal,
		exec:     exec,
		console:  console.New(out, consoleOpts...),
		prompter: prompter,
		runID:    runID,
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "\ncfrelease: %v\n", err)
	if env != nil {
		env.logger.Error("cfrelease failed", zap.Error(err))
		if run, step, ok := env.journal.LastCompleted(); ok {
			fmt.Fprintf(os.Stderr, "Last completed step: %s (run %s)\n", step, run)
		}
		_ = env.closeLog()
	}
	var aborted *prompt.UserAbortedError
	if errors.As(err, &aborted) || errors.Is(err, tui.ErrInterrupted) {
		fmt.Fprintln(os.Stderr, "Stopped at the operator's request.")
	}
	os.Exit(1)
}
