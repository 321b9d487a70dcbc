package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devinsight/devinsight/internal/client"
	"github.com/devinsight/devinsight/internal/handler/dto"
	"github.com/devinsight/devinsight/internal/model"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		username string
		scopes   []string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				v, err := a.prompt("Username or email: ")
				if err != nil {
					return err
				}
				username = v
			}
			password, err := a.readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			in := dto.LoginRequest{Password: password, Scopes: scopes}
			if strings.Contains(username, "@") {
				in.Email = username
			} else {
				in.Username = username
			}
			user, err := a.client.Login(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.rememberProfile(user)
			_, _ = fmt.Fprintf(a.streams.Out, "Signed in as %s\n", user.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username or email")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "token scopes (read, write); defaults to both")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.client.Logout(cmd.Context())
			// Local state is gone either way.
			if err != nil && !errors.Is(err, client.ErrUnauthorized) {
				a.logger.Warn("server_logout_failed", "error", err)
			}
			_, _ = fmt.Fprintln(a.streams.Out, "Signed out")
			return nil
		},
	}
}

func newRegisterCmd(a *app) *cobra.Command {
	var in dto.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			confirm, err := a.readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			in.Password = password

			user, err := a.client.Register(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.rememberProfile(user)
			_, _ = fmt.Fprintf(a.streams.Out, "Registered and signed in as %s\n", user.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "username (3-50 letters, digits, _ or -)")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newProfileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.profile(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(user, func(out io.Writer) error {
				t := newTable(out, "FIELD", "VALUE")
				t.row("id", user.ID)
				t.row("username", user.Username)
				t.row("email", user.Email)
				t.row("active", user.IsActive)
				t.row("last login", formatTime(user.LastLoginAt))
				t.row("created", formatTime(&user.CreatedAt))
				return t.flush()
			})
		},
	}
}

// profile fetches the user, falling back to the last stored copy when the
// server is unreachable.
func (a *app) profile(ctx context.Context) (*model.User, error) {
	user, err := a.client.Profile(ctx)
	if err == nil {
		a.rememberProfile(user)
		return user, nil
	}
	if !errors.Is(err, client.ErrNetwork) {
		return nil, err
	}
	raw, loadErr := a.store.LoadProfile()
	if loadErr != nil {
		return nil, err
	}
	var cached model.User
	if json.Unmarshal(raw, &cached) != nil {
		return nil, err
	}
	a.logger.Warn("server_unreachable_using_stored_profile", "error", err)
	return &cached, nil
}

func (a *app) rememberProfile(user *model.User) {
	if user == nil {
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := a.store.SaveProfile(raw); err != nil {
		a.logger.Warn("profile_save_failed", "error", err)
	}
}

func (a *app) lineReader() *bufio.Reader {
	if r, ok := a.streams.In.(*bufio.Reader); ok {
		return r
	}
	r := bufio.NewReader(a.streams.In)
	a.streams.In = r
	return r
}

func (a *app) prompt(label string) (string, error) {
	_, _ = fmt.Fprint(a.streams.Err, label)
	line, err := a.lineReader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo on a terminal and falls back to a
// plain line so passwords can be piped in.
func (a *app) promptPassword(label string) (string, error) {
	if f, ok := a.streams.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(a.streams.Err, label)
		pw, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(a.streams.Err)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	return a.prompt(label)
}
