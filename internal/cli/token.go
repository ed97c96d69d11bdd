package cli

import (
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/identity"
	"github.com/spf13/cobra"
)

// newTokenCmd issues a bearer token for local testing of the API.
func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		email  string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			issuer := identity.NewIssuer(tokenConfig(cfg))
			token, expires, err := issuer.Issue(domain.User{ID: userID, Email: email})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the token subject")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	return cmd
}
