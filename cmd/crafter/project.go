package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"crafter/internal/notify"
	"crafter/internal/project"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Load, export and list project files",
}

var projectLoadCmd = &cobra.Command{
	Use:   "load FILE",
	Short: "Import a project file: its character becomes current and its settings are applied",
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
		f, err := project.Decode(body)
		if err != nil {
			a.Notifier.Notify(notify.LevelError, "Failed to load project file. It may be corrupted.")
			return err
		}
		if err := a.Settings.Save(ctx, f.Settings); err != nil {
			return err
		}
		if _, err := a.Projects.Save(ctx, flagProject, f.CharacterData, f.Settings); err != nil {
			return err
		}
		a.Notifier.Notify(notify.LevelSuccess, "Project loaded successfully!")
		printCharacter(cmd, f.CharacterData)
		return nil
	},
}

var projectExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Copy the current project, with the image inlined, to FILE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		f, err := a.Projects.Load(ctx, flagProject)
		if err != nil {
			return err
		}
		s, err := a.LoadSettings(ctx)
		if err != nil {
			return err
		}
		key, err := a.Projects.Save(ctx, flagProject, f.CharacterData, s)
		if err != nil {
			return err
		}
		src, err := a.Files.Path(key)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		dst, _ := filepath.Abs(args[0])
		if err := os.WriteFile(dst, body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), dst)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects in the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := appFrom(ctx)
		if err != nil {
			return err
		}
		keys, err := a.Files.List(ctx, ".json")
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{projectLoadCmd, projectExportCmd} {
		c.Flags().StringVarP(&flagProject, "project", "p", project.DefaultFileName, "project file inside the data directory")
	}
	projectCmd.AddCommand(projectLoadCmd, projectExportCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}
