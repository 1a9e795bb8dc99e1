package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/providentiaww/trilix-lti/internal/cache"
	"github.com/providentiaww/trilix-lti/internal/lti"
	"github.com/providentiaww/trilix-lti/internal/models"
	"github.com/providentiaww/trilix-lti/internal/platform"
	"github.com/providentiaww/trilix-lti/internal/storage"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "Inspect registered LMS platforms",
}

var platformsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted issuers from the store and the legacy configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := lti.LoadConfigFromEnv()

		store, err := storage.NewStoreFromEnv()
		if err != nil {
			return fmt.Errorf("initializing platform store: %w", err)
		}
		defer store.Close()

		registry := platform.NewRegistry(store, cache.New[models.Platform](cfg.PlatformCacheTTL), cfg.Legacy)
		issuers, err := registry.RegisteredIssuers(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing issuers: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ISSUER\tCLIENT ID\tBASE URL")
		for _, iss := range issuers {
			clientID, err := registry.ClientIDFor(cmd.Context(), iss)
			if err != nil {
				clientID = "?"
			}
			baseURL, err := registry.BaseURLFor(cmd.Context(), iss)
			if err != nil {
				baseURL = "?"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", iss, clientID, baseURL)
		}
		return w.Flush()
	},
}

func init() {
	platformsCmd.AddCommand(platformsListCmd)
}
