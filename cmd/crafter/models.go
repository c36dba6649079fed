package main

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"crafter/internal/settings"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the third-party text API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		s, err := a.LoadSettings(ctx)
		if err != nil {
			return err
		}
		if s.LLMAPIProvider != settings.ProviderThirdParty {
			return fmt.Errorf("model listing needs llmApiProvider=%s", settings.ProviderThirdParty)
		}
		models, err := a.ListModels(ctx, s)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Model", "Selected"})
		for _, m := range models {
			table.Append([]string{m, yesNo(m == s.LLMModel)})
		}
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
