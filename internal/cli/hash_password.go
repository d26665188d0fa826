package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/workhistory/history-migrator/internal/auth"
)

// NewHashPasswordCommand creates the command that prints an operator hash
// for AUTH_OPERATORS.
func NewHashPasswordCommand(_ *RootOptions) *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password <plain>",
		Short: "Print the bcrypt hash of an operator password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashed, err := auth.HashPassword(args[0], cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hashed)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost+2, "bcrypt cost")
	return cmd
}
