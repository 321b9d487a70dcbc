package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Show or change the CLI configuration",
		Annotations: map[string]string{"session": "none"},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.render(a.cfg, func(out io.Writer) error {
				t := newTable(out, "KEY", "VALUE")
				t.row("server_url", a.cfg.Server)
				t.row("timeout", a.cfg.RequestTimeout())
				t.row("output", a.cfg.Output)
				t.row("state", a.cfg.State)
				t.row("file", a.configPath)
				return t.flush()
			})
		},
	}

	set := &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Persist a setting (server_url, timeout, output or state)",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"server_url", "timeout", "output", "state"},
		RunE: func(cmd *cobra.Command, args []string) error {
			stored, err := LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			switch args[0] {
			case "server_url":
				stored.Server = args[1]
			case "timeout":
				stored.Timeout = args[1]
			case "output":
				stored.Output = args[1]
			case "state":
				stored.State = args[1]
			default:
				return fmt.Errorf("unknown key %q", args[0])
			}
			if err := stored.validate(); err != nil {
				return err
			}
			if err := stored.Save(a.configPath); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.streams.Out, "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}
