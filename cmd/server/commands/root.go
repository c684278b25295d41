package commands

import (
	"io"

	"github.com/Tyrowin/cipherchat/internal/config"
	"github.com/Tyrowin/cipherchat/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
	logger     *logrus.Logger
	logCloser  io.Closer
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cipherchat",
		Short:         "Encrypted real-time chat server and client",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v := config.New()
			if err := config.ReadFile(v, configPath); err != nil {
				return err
			}
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}

			var err error
			if cfg, err = config.Load(v); err != nil {
				return err
			}
			cfg.Log.Output = cmd.ErrOrStderr()
			logger, logCloser, err = logging.New(cfg.Log)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./cipherchat.yaml if present)")
	pf.String("database-url", "", "datastore URL: memory:// or redis://host:port/db")
	pf.String("log-level", "", "trace, debug, info, warn or error")
	pf.String("log-file", "", "append logs to this file as well as stderr")

	root.AddCommand(serveCmd(), registerCmd(), historyCmd(), gencertCmd(), connectCmd())
	return root
}
