package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Generate a pre-key bundle and publish it under --peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.PeerID == "" {
				return errors.New("a peer id is required (--peer or peer_id)")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			b, err := wire.Lifecycle.PublishOwnBundle(ctx)
			if err != nil {
				return fmt.Errorf("publishing bundle for %q: %w", cfg.PeerID, err)
			}
			fp, err := wire.Identity.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published bundle for %s (registration %d, pre-key %d, signed pre-key %d)\nFingerprint: %s\n",
				cfg.PeerID, b.RegistrationID, b.PreKeyID, b.SignedPreKeyID, fp)
			return nil
		},
	}
}
