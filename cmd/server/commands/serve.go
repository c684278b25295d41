package commands

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Tyrowin/cipherchat/internal/auth"
	"github.com/Tyrowin/cipherchat/internal/certs"
	"github.com/Tyrowin/cipherchat/internal/server"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var users []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, users)
		},
	}

	f := cmd.Flags()
	f.String("host", "", "address to bind the chat listener to")
	f.Int("port", 0, "chat listener port")
	f.String("http-addr", "", "HTTP/WebSocket listen address, empty to disable")
	f.Int("max-connections", 0, "maximum concurrent connections")
	f.String("mode", "", "debug or production")
	f.Bool("tls", false, "serve the chat listener over TLS")
	f.String("cert", "", "TLS certificate path")
	f.String("key", "", "TLS private key path")
	f.String("duplicate-login", "", "evict or reject a second login for a live identity")
	f.Int("history-replay", 0, "recent global messages sent to each new session")
	f.String("idle-timeout", "", "close sessions idle this long, 0 to disable")
	f.StringArrayVar(&users, "user", nil, "bootstrap account as identity:password (repeatable)")
	return cmd
}

func runServe(ctx context.Context, users []string) error {
	backend, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	authSvc, err := newAuthService(backend)
	if err != nil {
		return err
	}
	if err := bootstrapUsers(ctx, authSvc, users); err != nil {
		return err
	}

	cipher, generated, err := newCipher()
	if err != nil {
		return err
	}
	if generated != "" {
		logger.WithField("secret", generated).Warn("no SECRET_KEY configured; generated one for this run, share it with clients")
	}

	opts := []server.Option{
		server.WithHistory(backend),
		server.WithPresence(backend),
		server.WithLogger(logger),
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := loadServerTLS()
		if err != nil {
			return err
		}
		opts = append(opts, server.WithTLSConfig(tlsConfig))
	}

	srv, err := server.New(cfg.Server, authSvc, cipher, opts...)
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() { errc <- srv.ListenAndServe() }()

	var httpSrv *http.Server
	if addr := srv.Config().HTTPAddr; addr != "" {
		httpSrv = server.NewHTTPServer(addr, srv.Routes())
		go func() {
			logger.WithField("addr", addr).Info("HTTP listener started")
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- errors.Wrap(err, "http server failed")
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-errc:
		if errors.Is(err, server.ErrServerClosed) {
			err = nil
		}
	}

	if httpSrv != nil {
		if shutErr := server.ShutdownHTTPServer(httpSrv, shutdownTimeout, logger); shutErr != nil {
			logger.WithError(shutErr).Warn("HTTP shutdown incomplete")
		}
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutErr := srv.Shutdown(shutCtx); shutErr != nil {
		logger.WithError(shutErr).Warn("chat shutdown incomplete")
	}
	return err
}

func bootstrapUsers(ctx context.Context, svc *auth.Service, users []string) error {
	for _, u := range users {
		identity, pw, ok := strings.Cut(u, ":")
		if !ok {
			return errors.Errorf("--user %q: want identity:password", u)
		}
		created, err := svc.Register(ctx, identity, pw)
		if err != nil {
			return errors.Wrapf(err, "bootstrap %s failed", identity)
		}
		logger.WithFields(logrus.Fields{"identity": identity, "created": created}).Info("bootstrap account")
	}
	return nil
}

// loadServerTLS loads the configured pair, generating a self-signed one
// first if neither file exists.
func loadServerTLS() (*tls.Config, error) {
	_, certErr := os.Stat(cfg.TLS.CertPath)
	_, keyErr := os.Stat(cfg.TLS.KeyPath)
	if os.IsNotExist(certErr) && os.IsNotExist(keyErr) {
		logger.WithField("cert", cfg.TLS.CertPath).Warn("no TLS certificate found; generating a self-signed one")
		if err := certs.WriteSelfSigned(cfg.TLS.CertPath, cfg.TLS.KeyPath, certs.DefaultOptions()); err != nil {
			return nil, err
		}
	}
	return certs.ServerTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
}
