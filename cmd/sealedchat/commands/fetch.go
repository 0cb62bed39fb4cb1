package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"sealedchat/internal/crypto"
	"sealedchat/internal/domain"
	"sealedchat/internal/protocol/x3dh"
)

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <peer>",
		Short: "Fetch a peer's bundle and check its signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := domain.PeerID(args[0])
			ctx, cancel := commandContext(cmd)
			defer cancel()

			b, err := wire.Directory.Fetch(ctx, peer)
			if err != nil {
				return fmt.Errorf("fetching bundle of %q: %w", peer, err)
			}
			sig := "valid"
			if !x3dh.VerifySPK(b.IdentityKey, b.SignedPreKey, b.SignedPreKeySignature) {
				sig = "INVALID"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Peer:            %s\n", peer)
			fmt.Fprintf(out, "Registration id: %d\n", b.RegistrationID)
			fmt.Fprintf(out, "Device id:       %d\n", b.DeviceID)
			fmt.Fprintf(out, "Pre-key id:      %d\n", b.PreKeyID)
			fmt.Fprintf(out, "Signed pre-key:  %d (signature %s)\n", b.SignedPreKeyID, sig)
			fmt.Fprintf(out, "Fingerprint:     %s\n", crypto.Fingerprint(b.IdentityKey))
			return nil
		},
	}
}
