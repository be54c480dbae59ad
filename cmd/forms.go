package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/formflow/internal/registry"
	"github.com/sells-group/formflow/pkg/notion"
)

var formsCmd = &cobra.Command{
	Use:   "forms",
	Short: "Manage form definitions",
}

var formsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a normalized form definition as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("form")
		name, _ := cmd.Flags().GetString("notion-form")

		var client notion.Client
		if name != "" && cfg.Notion.Token != "" {
			client = notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RequestsPerSecond))
		}

		form, err := loadForm(cmd.Context(), client, path, name)
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(form)
	},
}

var formsPushCmd = &cobra.Command{
	Use:   "push <form-file>",
	Short: "Create one Notion page per field of a form file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Notion.Token == "" {
			return eris.New("forms push: notion.token is required")
		}
		if cfg.Notion.FormDB == "" {
			return eris.New("forms push: notion.form_db is required")
		}

		form, err := registry.LoadFormFromFile(args[0])
		if err != nil {
			return err
		}

		client := notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RequestsPerSecond))
		created, err := registry.PushFormToNotion(cmd.Context(), client, cfg.Notion.FormDB, form)
		if err != nil {
			return eris.Wrapf(err, "forms push: %d of %d field(s) created", created, len(form.Fields))
		}

		zap.L().Info("forms push: complete",
			zap.String("form", form.Name),
			zap.Int("fields", created),
		)
		return nil
	},
}

func init() {
	formsShowCmd.Flags().String("form", "", "path to a YAML or JSON form definition")
	formsShowCmd.Flags().String("notion-form", "", "name of a form stored in the Notion form database")

	formsCmd.AddCommand(formsShowCmd)
	formsCmd.AddCommand(formsPushCmd)
	rootCmd.AddCommand(formsCmd)
}
