package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sealedchat/internal/auth"
	"sealedchat/internal/domain"
)

func tokenCmd() *cobra.Command {
	var (
		key string
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <peer>",
		Short: "Issue a directory write token for a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return errors.New("missing signing key (--jwt-key)")
			}
			tok, exp, err := auth.New([]byte(key), ttl).Issue(domain.PeerID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "jwt-key", "", "HS256 signing key shared with the directory service")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}
