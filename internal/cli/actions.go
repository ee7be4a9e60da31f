package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewActionsCommand lists the registered actions.
func NewActionsCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the actions the UI can send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root.env, zap.NewNop(), func() {})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tCONFIRM\tFORM\tASYNC")
			for _, c := range a.registry.Actions() {
				d, _ := a.registry.Resolve(c)
				fmt.Fprintf(w, "%s\t%t\t%s\t%t\n", c, d.RequiresConfirmation, d.FormData, d.Async)
			}
			return w.Flush()
		},
	}
}
