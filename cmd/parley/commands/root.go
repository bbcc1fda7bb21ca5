package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"parley/internal/app"
	"parley/internal/domain"
)

const passphraseEnv = "PARLEY_PASSPHRASE"

var (
	home       string
	passphrase string
	appCtx     *app.Wire

	relayURL string
	username string
)

func Execute() error {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "End-to-end encrypted messaging CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".parley")
			}
			if passphrase == "" {
				passphrase = os.Getenv(passphraseEnv)
			}
			w, err := app.Open(home, relayURL)
			if err != nil {
				return err
			}
			appCtx = w
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.parley)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "",
		"passphrase protecting your identity key (or $"+passphraseEnv+")")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL, overrides config.toml")
	root.PersistentFlags().StringVarP(&username, "username", "u", "", "your username (same as you registered with)")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		resolveCmd(),
		sendCmd(),
		recvCmd(),
		listenCmd(),
		historyCmd(),
		rotateCmd(),
		forgetCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	if appCtx != nil {
		if cerr := appCtx.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
	}
	return err
}

func requirePassphrase() error {
	if passphrase == "" {
		return errors.Errorf("passphrase required (-p or $%s)", passphraseEnv)
	}
	return nil
}

// requireAccount checks the passphrase and username and loads the relay
// token saved by register.
func requireAccount() (domain.Username, error) {
	if err := requirePassphrase(); err != nil {
		return "", err
	}
	if username == "" {
		return "", errors.New("--username required")
	}
	me := domain.Username(username)
	if err := appCtx.Login(me); err != nil {
		return "", err
	}
	return me, nil
}

// describe prefers the non-technical wording for protocol failures.
func describe(err error) string {
	for _, known := range []error{
		domain.ErrCryptoUnavailable,
		domain.ErrMissingRecipientKey,
		domain.ErrDecryptionFailed,
		domain.ErrUnwrapFailed,
		domain.ErrNoConversationKey,
	} {
		if errors.Is(err, known) {
			return domain.UserFacing(err) + " (" + err.Error() + ")"
		}
	}
	return err.Error()
}
