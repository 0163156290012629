package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haatos/verify-ci/internal/service"
	"github.com/haatos/verify-ci/internal/store"
)

// NewAPIKeyCmd creates the api-key command group.
func NewAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api-key",
		Short: "Manage the API keys that authenticate webhook events",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create an API key and print its value",
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, closeDBs := newAPIKeyService()
				defer closeDBs()
				ak, err := svc.CreateAPIKey(context.Background())
				if err != nil {
					return fmt.Errorf("creating api key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ak.Value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List API keys",
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, closeDBs := newAPIKeyService()
				defer closeDBs()
				apiKeys, err := svc.ListAPIKeys(context.Background())
				if err != nil {
					return fmt.Errorf("listing api keys: %w", err)
				}
				printAPIKeys(cmd, apiKeys)
				return nil
			},
		},
	)
	return cmd
}

func newAPIKeyService() (*service.APIKeyService, func()) {
	rdb, rwdb := bootstrap()
	svc := service.NewAPIKeyService(store.NewAPIKeySQLiteStore(rdb, rwdb), service.NewUUIDGen())
	return svc, func() {
		rdb.Close()
		rwdb.Close()
	}
}

func printAPIKeys(cmd *cobra.Command, apiKeys []*store.APIKey) {
	for _, ak := range apiKeys {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n",
			ak.ID, ak.Value, ak.CreatedOn.Format("2006-01-02 15:04:05"))
	}
}
