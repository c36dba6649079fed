package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"crafter/internal/app"
	"crafter/internal/character"
	"crafter/internal/project"
	"crafter/internal/settings"
	"crafter/internal/storage"
)

var (
	flagProject string
	flagIdea    string
	flagNoImage bool
)

// loadWorkspace reads the named project, or starts a new character when it does not exist yet.
func loadWorkspace(ctx context.Context, a *app.App, name string) (character.Data, error) {
	if name == "" {
		name = project.DefaultFileName
	}
	raw, err := a.Files.Read(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return character.New(time.Now()), nil
	}
	if err != nil {
		return character.Data{}, err
	}
	f, err := project.Decode(raw)
	if err != nil {
		return character.Data{}, err
	}
	return f.CharacterData, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate profile, card, image prompt and image from an idea",
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
		if err := settings.Validate(s); err != nil {
			return err
		}

		data := character.New(time.Now())
		if strings.TrimSpace(flagIdea) != "" {
			data.Idea.Edit(flagIdea, time.Now())
		}
		p, closeText, err := a.Pipeline(ctx, s, !flagNoImage)
		if err != nil {
			return err
		}
		defer closeText()

		runErr := p.GenerateAll(ctx, &data, s)
		if runErr == nil && !flagNoImage {
			_, runErr = p.GenerateImage(ctx, &data, s)
		}
		// Partial results are kept.
		if _, err := a.Projects.Save(ctx, flagProject, data, s); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		printCharacter(cmd, data)
		return nil
	},
}

var stepCmd = &cobra.Command{
	Use:       "step {profile|card|image-prompt}",
	Short:     "Regenerate one text field from its upstream field",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"profile", "card", "image-prompt"},
	RunE: func(cmd *cobra.Command, args []string) error {
		step, ok := character.StepByName(args[0])
		if !ok {
			return fmt.Errorf("unknown step %q", args[0])
		}
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		s, err := a.LoadSettings(ctx)
		if err != nil {
			return err
		}
		data, err := loadWorkspace(ctx, a, flagProject)
		if err != nil {
			return err
		}
		p, closeText, err := a.Pipeline(ctx, s, false)
		if err != nil {
			return err
		}
		defer closeText()

		if err := p.Generate(ctx, &data, step, s); err != nil {
			return err
		}
		if _, err := a.Projects.Save(ctx, flagProject, data, s); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), data.Field(step.Output).Value)
		return nil
	},
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Generate the image from the current image prompt",
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
		data, err := loadWorkspace(ctx, a, flagProject)
		if err != nil {
			return err
		}
		p, closeText, err := a.Pipeline(ctx, s, true)
		if err != nil {
			return err
		}
		defer closeText()

		out, err := p.GenerateImage(ctx, &data, s)
		if err != nil {
			return err
		}
		if _, err := a.Projects.Save(ctx, flagProject, data, s); err != nil {
			return err
		}
		size := 0
		if out.Artifact != nil {
			size = len(out.Artifact.Data)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s after %d polls, %d bytes\n", out.Lifecycle, out.Attempts, size)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit {idea|profile|card|imagePrompt} VALUE",
	Short: "Replace a field by hand",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, ok := character.ParseFieldKey(args[0])
		if !ok {
			return fmt.Errorf("unknown field %q", args[0])
		}
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		s, err := a.LoadSettings(ctx)
		if err != nil {
			return err
		}
		data, err := loadWorkspace(ctx, a, flagProject)
		if err != nil {
			return err
		}
		data.Field(key).Edit(args[1], time.Now())
		_, err = a.Projects.Save(ctx, flagProject, data, s)
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the fields of the current character and whether they are stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		data, err := loadWorkspace(ctx, a, flagProject)
		if err != nil {
			return err
		}
		printCharacter(cmd, data)
		return nil
	},
}

func printCharacter(cmd *cobra.Command, data character.Data) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Field", "Chars", "Last Modified", "Last Generated", "Stale"})
	table.SetBorder(true)
	row := func(name string, f character.ContentField, stale bool) {
		table.Append([]string{name, strconv.Itoa(len(f.Value)), formatMillis(f.LastModified), formatMillis(f.LastGenerated), yesNo(stale)})
	}
	row(string(character.FieldIdea), data.Idea, false)
	for _, step := range character.Steps {
		row(string(step.Output), *data.Field(step.Output), data.Stale(step))
	}
	image := "none"
	if u := data.ImageURL(); u != "" {
		image = fmt.Sprintf("%d chars", len(u))
	}
	table.Append([]string{"image", image, "", "", yesNo(data.ImageStale())})
	table.Render()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func init() {
	for _, c := range []*cobra.Command{runCmd, stepCmd, imageCmd, editCmd, statusCmd} {
		c.Flags().StringVarP(&flagProject, "project", "p", project.DefaultFileName, "project file inside the data directory")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().StringVar(&flagIdea, "idea", "", "character idea (defaults to the built-in example)")
	runCmd.Flags().BoolVar(&flagNoImage, "no-image", false, "stop after the image prompt")
}
