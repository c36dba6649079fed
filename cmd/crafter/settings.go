package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"crafter/internal/notify"
	"crafter/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change providers, models and prompts",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings with keys masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		s, stored, err := a.Settings.Load(ctx)
		if err != nil {
			return err
		}
		r := s.Redacted()
		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.SetHeader([]string{"Setting", "Value"})
		table.SetAutoWrapText(false)
		for _, kv := range [][2]string{
			{"llmApiProvider", string(r.LLMAPIProvider)},
			{"llmModel", r.LLMModel},
			{"llmApiUrl", r.LLMAPIURL},
			{"llmApiKey", r.LLMAPIKey},
			{"imageApiProvider", string(r.ImageAPIProvider)},
			{"imageModel", r.ImageModel},
			{"imageApiUrl", r.ImageAPIURL},
			{"imageApiKey", r.ImageAPIKey},
			{"imageAspectRatio", string(r.ImageAspectRatio)},
			{"bflSettings.model", r.BFLSettings.Model},
			{"bflSettings.promptUpsampling", strconv.FormatBool(r.BFLSettings.PromptUpsampling)},
			{"bflSettings.safetyTolerance", strconv.Itoa(r.BFLSettings.SafetyTolerance)},
			{"profilePrompt", preview(r.ProfilePrompt)},
			{"cardPrompt", preview(r.CardPrompt)},
			{"promptPrompt", preview(r.PromptPrompt)},
		} {
			table.Append([]string{kv[0], kv[1]})
		}
		table.Render()

		if !stored {
			fmt.Fprintln(cmd.OutOrStdout(), "Using defaults (nothing saved yet).")
		} else if at, ok, err := a.Settings.LastSaved(ctx); err == nil && ok {
			fmt.Fprintf(cmd.OutOrStdout(), "Last saved %s\n", at.Local().Format(time.DateTime))
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change one setting, e.g. `set llmModel gpt-4o` or `set bflSettings.safetyTolerance 2`",
	Args:  cobra.ExactArgs(2),
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
		patch, err := settingsPatch(args[0], args[1])
		if err != nil {
			return err
		}
		next, err := settings.Merge(s, patch)
		if err != nil {
			return err
		}
		if err := settings.Validate(next); err != nil {
			return err
		}
		if err := a.Settings.Save(ctx, next); err != nil {
			a.Notifier.Notify(notify.LevelError, "Failed to save settings automatically")
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
		return nil
	},
}

var settingsSetKeyCmd = &cobra.Command{
	Use:       "set-key {llm|image} KEY",
	Short:     "Store the API key for the text or image provider",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"llm", "image"},
	RunE: func(cmd *cobra.Command, args []string) error {
		field := map[string]string{"llm": "llmApiKey", "image": "imageApiKey"}[args[0]]
		if field == "" {
			return fmt.Errorf("unknown key target %q, want llm or image", args[0])
		}
		return settingsSetCmd.RunE(cmd, []string{field, args[1]})
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		if err := a.Settings.Clear(ctx); err != nil {
			a.Notifier.Notify(notify.LevelError, "Failed to reset settings")
			return err
		}
		a.Notifier.Notify(notify.LevelSuccess, "Settings reset to defaults")
		return nil
	},
}

var settingsExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write the settings to a JSON file",
	Args:  cobra.ExactArgs(1),
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
		body, err := settings.Export(s, time.Now())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], body, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings exported to %s\n", args[0])
		return nil
	},
}

var settingsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Replace the settings with an exported JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		s, err := settings.Import(body)
		if err != nil {
			return err
		}
		if err := settings.Validate(s); err != nil {
			return err
		}
		if err := a.Settings.Save(ctx, s); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings imported from %s\n", args[0])
		return nil
	},
}

// settingsPatch turns a dotted key and a raw value into a JSON object.
func settingsPatch(key, value string) (json.RawMessage, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) > 2 || !knownSetting(parts) {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	var v any = value
	switch parts[len(parts)-1] {
	case "safetyTolerance":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		v = n
	case "promptUpsampling":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		v = b
	}
	if len(parts) == 2 {
		v = map[string]any{parts[1]: v}
	}
	return json.Marshal(map[string]any{parts[0]: v})
}

func knownSetting(parts []string) bool {
	raw, _ := json.Marshal(settings.Defaults())
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	nested, ok := fields[parts[0]]
	if !ok || len(parts) == 1 {
		return ok && (len(nested) == 0 || nested[0] != '{')
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(nested, &inner); err != nil {
		return false
	}
	_, ok = inner[parts[1]]
	return ok
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsSetKeyCmd, settingsResetCmd, settingsExportCmd, settingsImportCmd)
	rootCmd.AddCommand(settingsCmd)
}
