package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"sealedchat/internal/app"
	"sealedchat/internal/domain"
)

// handshakeCmd publishes bundles for two local devices and exchanges one
// message each way through the configured directory.
func handshakeCmd() *cobra.Command {
	var peerToken string
	cmd := &cobra.Command{
		Use:   "handshake <other-peer>",
		Short: "Exchange hello/world between --peer and a second local device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.PeerID == "" {
				return errors.New("a peer id is required (--peer or peer_id)")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			otherCfg := cfg
			otherCfg.PeerID = args[0]
			otherCfg.Directory.Token = peerToken

			mine, other := wire, (*app.Wire)(nil)
			inProcess := cfg.Directory.Backend == app.BackendMemory ||
				(cfg.Directory.Backend == app.BackendBadger && cfg.Directory.Path == "")
			if inProcess {
				// Two Wires never share an in-process backend unless handed
				// the same one.
				store, closeStore, err := app.OpenStore(ctx, cfg.Directory, logger)
				if err != nil {
					return err
				}
				defer closeStore()
				if mine, err = app.NewWireWithStore(cfg, store, logger); err != nil {
					return err
				}
				if other, err = app.NewWireWithStore(otherCfg, store, logger.Named("other")); err != nil {
					return err
				}
			} else {
				var err error
				if other, err = app.NewWire(ctx, otherCfg, logger.Named("other")); err != nil {
					return err
				}
				defer other.Close()
			}

			me, them := domain.PeerID(cfg.PeerID), domain.PeerID(otherCfg.PeerID)
			out := cmd.OutOrStdout()
			if _, err := mine.Lifecycle.PublishOwnBundle(ctx); err != nil {
				return fmt.Errorf("publish %s: %w", me, err)
			}
			if _, err := other.Lifecycle.PublishOwnBundle(ctx); err != nil {
				return fmt.Errorf("publish %s: %w", them, err)
			}

			ct, err := mine.Lifecycle.Send(ctx, them, []byte("hello"))
			if err != nil {
				return fmt.Errorf("cannot establish secure session with %s: %w", them, err)
			}
			fmt.Fprintf(out, "%s -> %s: %d byte envelope (type 0x%02x)\n", me, them, len(ct), ct[0])
			if err := other.Lifecycle.EnsureSession(ctx, me); err != nil {
				return fmt.Errorf("cannot establish secure session with %s: %w", me, err)
			}
			got, err := other.Lifecycle.Receive(me, ct)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s received: %s\n", them, show(got.Plaintext, got.Undecryptable))

			reply, err := other.Lifecycle.Send(ctx, me, []byte("world"))
			if err != nil {
				return err
			}
			got, err = mine.Lifecycle.Receive(them, reply)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s received: %s\n", me, show(got.Plaintext, got.Undecryptable))

			sn, err := mine.Sessions.Fingerprint(them)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Safety number: %s\n", sn)
			return nil
		},
	}
	cmd.Flags().StringVar(&peerToken, "other-token", "", "directory write token for the second device")
	return cmd
}

func show(pt []byte, undecryptable bool) string {
	if undecryptable {
		return "[undecryptable message]"
	}
	return string(pt)
}
