// Package cli is the smartbox command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartbox/internal/hostenv"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Dev        bool

	env hostenv.Config
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "smartbox",
		Short:         "SmartBox host bridge",
		Long:          "Serves the SmartBox UI bridge: actions, device configuration, capture and DICOM connectivity checks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			env, err := hostenv.Load()
			if err != nil {
				return fmt.Errorf("load environment: %w", err)
			}
			if opts.ConfigPath != "" {
				env.ConfigPath = opts.ConfigPath
			}
			if opts.Dev {
				env.Dev = true
			}
			opts.env = env
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration document (default: user config dir)")
	cmd.PersistentFlags().BoolVar(&opts.Dev, "dev", false, "development logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewActionsCommand(opts))

	return cmd
}
