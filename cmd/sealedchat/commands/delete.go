package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the bundle published under --peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.PeerID == "" {
				return errors.New("a peer id is required (--peer or peer_id)")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := wire.Lifecycle.Unpublish(ctx); err != nil {
				return fmt.Errorf("deleting bundle of %q: %w", cfg.PeerID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted bundle of %s\n", cfg.PeerID)
			return nil
		},
	}
}
