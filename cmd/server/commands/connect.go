package commands

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/Tyrowin/cipherchat/internal/certs"
	"github.com/Tyrowin/cipherchat/internal/client"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func connectCmd() *cobra.Command {
	var (
		pw    string
		addr  string
		wsURL string
		room  string
	)

	cmd := &cobra.Command{
		Use:   "connect [identity]",
		Short: "Chat from the terminal: stdin lines are sent, messages are printed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			if pw == "" {
				var err error
				if pw, err = readLine(in); err != nil {
					return errors.Wrap(err, "read password failed")
				}
			}

			cipher, generated, err := newCipher()
			if err != nil {
				return err
			}
			if generated != "" {
				return errors.New("SECRET_KEY must be set to the server's secret")
			}

			c, err := dial(cmd.Context(), addr, wsURL, cipher)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Login(args[0], pw); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected as %s\n", args[0])

			done := make(chan error, 1)
			go func() {
				for {
					msg, err := c.Receive()
					if err != nil {
						done <- err
						return
					}
					fmt.Fprintf(out, "[%s] #%s %s: %s\n",
						msg.Timestamp.Local().Format(time.TimeOnly), msg.Room, msg.Sender, msg.Content)
				}
			}()

			lines := bufio.NewScanner(in)
			for lines.Scan() {
				text := strings.TrimSpace(lines.Text())
				if text == "" {
					continue
				}
				if err := c.Send(room, text); err != nil {
					return err
				}
			}
			_ = c.Close()
			<-done
			return lines.Err()
		},
	}

	f := cmd.Flags()
	f.StringVar(&pw, "password", "", "password (first stdin line when omitted)")
	f.StringVar(&addr, "addr", "", "server address (default from host and port)")
	f.StringVar(&wsURL, "ws", "", "connect over WebSocket to this URL instead")
	f.StringVar(&room, "room", "", "room to post to")
	f.Bool("tls", false, "connect with TLS, trusting the configured certificate")
	f.String("cert", "", "certificate to trust for TLS")
	return cmd
}

func dial(ctx context.Context, addr, wsURL string, cipher *secure.Cipher) (*client.Client, error) {
	opts := client.Options{MaxFrameSize: cfg.Server.MaxFrameSize}
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	if cfg.TLS.Enabled || strings.HasPrefix(wsURL, "wss://") {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		if wsURL != "" {
			u, err := url.Parse(wsURL)
			if err != nil {
				return nil, errors.Wrap(err, "parse websocket URL failed")
			}
			host = u.Hostname()
		}
		if opts.TLS, err = certs.ClientTLS(cfg.TLS.CertPath, host); err != nil {
			return nil, err
		}
	}
	if wsURL != "" {
		return client.DialWebSocket(ctx, wsURL, cipher, opts)
	}
	return client.Dial(ctx, addr, cipher, opts)
}
