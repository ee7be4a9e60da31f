package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartbox/internal/config"
	"smartbox/internal/schema"
	"smartbox/internal/settings"
)

// NewConfigCommand groups the configuration document commands.
func NewConfigCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the device configuration",
	}
	cmd.AddCommand(newConfigShowCommand(root))
	cmd.AddCommand(newConfigValidateCommand(root))
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration document location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), root.env.ConfigPath)
			return err
		},
	})
	return cmd
}

func newConfigShowCommand(root *RootOptions) *cobra.Command {
	var form bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Prints the configuration as the host would load it, with defaults in place of missing or invalid fields.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.Open(cmd.Context(), root.env.ConfigPath, root.env.Defaults.Document(), zap.NewNop(),
				config.WithValidator(schema.NewCompilerWithCache(4)))
			if store == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}

			var out []byte
			if form {
				out, err = json.MarshalIndent(settings.NewCodec().Encode(store.Snapshot()), "", "  ")
			} else {
				out, err = store.Export()
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}

	cmd.Flags().BoolVar(&form, "form", false, "print settings form field ids instead of the document")
	return cmd
}

func newConfigValidateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a configuration document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.env.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			m, err := config.Load(cmd.Context(), path, root.env.Defaults.Document(), schema.NewCompilerWithCache(4))
			var le *config.LoadError
			switch {
			case errors.As(err, &le) && le.Err != nil:
				return fmt.Errorf("%s is not usable: %w", path, le.Err)
			case errors.As(err, &le):
				for _, f := range le.Fields {
					fmt.Fprintf(cmd.OutOrStdout(), "invalid: %v\n", f)
				}
				return fmt.Errorf("%s has %d invalid field(s)", path, len(le.Fields))
			case err != nil:
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (version %d)\n", path, m.Version)
			return err
		},
	}
}
