package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"vitalred_worker/pkg/credential"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// openCredentials is replaced in tests.
var openCredentials = credential.Open

func credentialsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the mailbox secret stored in the OS keyring",
	}

	var account string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the mailbox secret (read from the terminal or stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			account = accountOrDefault(account, opts)
			if account == "" {
				return fmt.Errorf("--account or MAILBOX_ADDRESS is required")
			}
			secret, err := readSecret(cmd)
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("empty secret")
			}
			store, err := openCredentials()
			if err != nil {
				return err
			}
			if err := store.Set(account, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "secret stored for %s\n", account)
			return nil
		},
	}
	setCmd.Flags().StringVar(&account, "account", "", "mailbox address (default MAILBOX_ADDRESS)")

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored mailbox secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			account = accountOrDefault(account, opts)
			store, err := openCredentials()
			if err != nil {
				return err
			}
			if err := store.Delete(account); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "secret removed for %s\n", account)
			return nil
		},
	}
	deleteCmd.Flags().StringVar(&account, "account", "", "mailbox address (default MAILBOX_ADDRESS)")

	cmd.AddCommand(setCmd, deleteCmd)
	return cmd
}

func accountOrDefault(account string, opts *rootOptions) string {
	if account != "" || opts.cfg == nil {
		return account
	}
	return opts.cfg.MailboxAddress
}

// readSecret reads without echo from a terminal, otherwise one line of stdin.
func readSecret(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Mailbox secret: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
