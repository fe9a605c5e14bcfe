package main

import (
	"fmt"

	"github.com/eser/aicaller/pkg/api/adapters/appcontext"
	"github.com/eser/aicaller/pkg/api/business/resources"
	"github.com/spf13/cobra"
)

type cli struct {
	appContext *appcontext.AppContext
	resource   string
}

func newRootCmd(appContext *appcontext.AppContext) *cobra.Command {
	c := &cli{appContext: appContext}

	rootCmd := &cobra.Command{
		Use:           "aicaller",
		Short:         "Run LLM requests against OpenAI-compatible, Ollama and Google GenAI resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.appContext.InitResources(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.resource, "resource", "r", "", "resource to call (default is the first configured one)")

	rootCmd.AddCommand(
		c.newBatchCmd(),
		c.newSyncCmd(),
		c.newLineCmd(),
		c.newBatchesCmd(),
		c.newJobsCmd(),
		c.newResourcesCmd(),
	)

	return rootCmd
}

func (c *cli) provider(cmd *cobra.Command) (resources.Provider, error) {
	return c.appContext.Resources.FindResource(cmd.Context(), c.resource)
}

func (c *cli) newResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List configured resources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, key := range c.appContext.Resources.ListResources() {
				resource, err := c.appContext.Resources.GetResource(key)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, resource.Kind())
			}

			return nil
		},
	}
}
