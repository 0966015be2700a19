package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/server/auth"
	"github.com/dmitrijs2005/homesync/internal/shared"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// readSecret prompts on w and reads the signing secret without echo when
// stdin is a terminal, or one line from in otherwise.
func readSecret(in io.Reader, w io.Writer) ([]byte, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if _, err := fmt.Fprint(w, "Signing secret: "); err != nil {
			return nil, err
		}
		secret, err := readPassword(int(f.Fd()))
		fmt.Fprintln(w)
		return secret, err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		user      string
		household string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token with the server's signing secret",
		Long: `Mint an HS256 access token for a user and, optionally, a household.
The signing secret is read from the terminal without echo, or from stdin
when it is not a terminal.

Example:
  homesync token --user alice --household home --ttl 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer shared.WipeByteArray(secret)
			if len(secret) == 0 {
				return errors.New("empty signing secret")
			}
			tok, err := auth.GenerateToken(domain.Session{UserID: user, HouseholdID: household}, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	cmd.Flags().StringVar(&household, "household", "", "household id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token validity")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
