package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sealedchat/internal/app"
)

var (
	configPath string
	cfg        app.Config
	wire       *app.Wire
	logger     *zap.Logger
	timeout    time.Duration
)

func Execute() error {
	return execute(context.Background(), newRootCmd())
}

// execute runs root and releases the wire whether or not the command failed.
func execute(ctx context.Context, root *cobra.Command) (err error) {
	defer func() { err = errors.Join(err, release()) }()
	return root.ExecuteContext(ctx)
}

func release() error {
	if logger != nil {
		_ = logger.Sync()
	}
	if wire == nil {
		return nil
	}
	w := wire
	wire = nil
	return w.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sealedchat",
		Short:         "End-to-end encrypted session tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := app.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &loaded)
			cfg = loaded

			logger, err = app.NewLogger(cfg.LogLevel, cfg.DevLogging)
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cmd.Context(), cfg, logger)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "sealedchat.yaml", "config file")
	pf.String("peer", "", "our peer id (overrides peer_id)")
	pf.String("backend", "", "directory backend: memory, http, grpc, postgres, badger")
	pf.String("url", "", "directory service address for http or grpc")
	pf.String("token", "", "bearer token for directory writes")
	pf.String("dsn", "", "PostgreSQL DSN for the postgres backend")
	pf.String("path", "", "Badger directory for the badger backend")
	pf.String("trust", "", "trust mode: tofu, always, verified")
	pf.String("log-level", "", "log level")
	pf.Bool("dev", false, "human-readable logs")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(publishCmd(), fetchCmd(), deleteCmd(), tokenCmd(), handshakeCmd())
	return root
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, c *app.Config) {
	fs := cmd.Flags()
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	str("peer", &c.PeerID)
	str("backend", &c.Directory.Backend)
	str("url", &c.Directory.URL)
	str("token", &c.Directory.Token)
	str("dsn", &c.Directory.DSN)
	str("path", &c.Directory.Path)
	str("trust", &c.TrustMode)
	str("log-level", &c.LogLevel)
	if fs.Changed("dev") {
		c.DevLogging, _ = fs.GetBool("dev")
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
