// Package cli implements the devinsight command-line client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devinsight/devinsight/internal/client"
	"github.com/devinsight/devinsight/internal/client/state"
)

// AppName is the binary name.
const AppName = "devinsight"

// Streams are the command's standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// app carries what every subcommand needs once the persistent flags are
// resolved.
type app struct {
	streams Streams

	configPath string
	server     string
	output     string
	statePath  string
	verbose    bool

	cfg    *Config
	logger *slog.Logger
	store  *state.BoltStore
	client *client.Client

	// readPassword is swapped in tests.
	readPassword func(prompt string) (string, error)
}

// Run executes the CLI with args and releases the session store
// afterwards, including when the command fails.
func Run(ctx context.Context, streams Streams, args []string) error {
	a := newApp(streams)
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

func newApp(streams Streams) *app {
	a := &app{streams: streams}
	a.readPassword = a.promptPassword
	return a
}

func newRootCmd(a *app) *cobra.Command {
	streams := a.streams

	root := &cobra.Command{
		Use:   AppName,
		Short: "Developer productivity analytics from the command line",
		Long: `devinsight talks to a DevInsight API server. It tracks GitHub, GitLab and
Yunxiao repositories, syncs their commits and merge requests, and reports
commit, merge request, efficiency and contributor analytics.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", DefaultConfigPath(), "config file")
	flags.StringVar(&a.server, "server", "", "API server URL (overrides config and "+envServer+")")
	flags.StringVarP(&a.output, "output", "o", "", "output format: table or json")
	flags.StringVar(&a.statePath, "state", "", "session state file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newRegisterCmd(a),
		newProfileCmd(a),
		newReposCmd(a),
		newAnalyticsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs the CLI against the process streams and returns the exit
// code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	streams := Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
	if err := Run(ctx, streams, os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(streams.Err, "error:", describe(err))
		return 1
	}
	return 0
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.streams.Err, &slog.HandlerOptions{Level: level})).
		With("service", AppName)

	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.server != "" {
		cfg.Server = a.server
	}
	if a.output != "" {
		cfg.Output = a.output
	}
	if a.statePath != "" {
		cfg.State = a.statePath
	}
	if cfg.State == "" {
		cfg.State = DefaultStatePath()
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if skipsSession(cmd) {
		return nil
	}

	store, err := state.OpenBolt(cfg.State)
	if err != nil {
		return err
	}
	a.store = store
	a.client = client.New(cfg.Server,
		client.WithTokenStore(store),
		client.WithTimeout(cfg.RequestTimeout()),
		client.WithCache(state.NewCache(), state.DefaultTTL),
		client.WithLogger(a.logger),
		client.WithOnLogout(func() {
			_, _ = fmt.Fprintf(a.streams.Err, "session expired, run %q to sign in again\n", AppName+" login")
		}),
	)
	a.logger.Debug("cli_ready", "server", cfg.Server, "state", cfg.State)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// skipsSession reports whether cmd works on the config file alone.
func skipsSession(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations["session"] == "none" {
			return true
		}
	}
	return false
}

// describe turns client errors into a one-line hint.
func describe(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrSessionExpired), errors.Is(err, client.ErrUnauthorized):
		if errors.As(err, &apiErr) && apiErr.Code == "INVALID_CREDENTIALS" {
			return apiErr.Message
		}
		return "not signed in or session expired; run " + AppName + " login"
	case errors.Is(err, client.ErrNetwork):
		return "cannot reach the server: " + err.Error()
	case errors.As(err, &apiErr):
		msg := apiErr.Message
		for _, field := range slices.Sorted(maps.Keys(apiErr.Fields)) {
			msg += fmt.Sprintf("\n  %s: %s", field, apiErr.Fields[field])
		}
		return msg
	default:
		return err.Error()
	}
}
