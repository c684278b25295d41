package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	var pw string

	cmd := &cobra.Command{
		Use:   "register [identity]",
		Short: "Create credentials in the configured datastore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := args[0]
			if pw == "" {
				var err error
				if pw, err = readLine(bufio.NewReader(cmd.InOrStdin())); err != nil {
					return errors.Wrap(err, "read password failed")
				}
			}

			backend, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			svc, err := newAuthService(backend)
			if err != nil {
				return err
			}
			created, err := svc.Register(cmd.Context(), identity, pw)
			if err != nil {
				return err
			}
			if !created {
				return errors.Errorf("identity %q is already registered", identity)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", identity)
			return nil
		},
	}
	cmd.Flags().StringVar(&pw, "password", "", "password (read from stdin when omitted)")
	return cmd
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
