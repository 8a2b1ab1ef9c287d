// File: cmd/stages.go
package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/mender/internal/autofix/pipeline"
)

func newCleanDOMCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-dom <dir-or-file>",
		Short: "Strip scripts and styles from captured DOM snapshots",
		Long: `Normalizes a raw DOM snapshot, or every raw snapshot in a failures directory,
writing "<name>-clean.html" beside each one. A missing directory is not an error.`,
		Args: cobra.ExactArgs(1),
		RunE: runStage(func(cmd *cobra.Command, args []string) error {
			pl, err := a.pipeline()
			if err != nil {
				return err
			}
			stats, err := pl.Clean(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range stats {
				fmt.Fprintf(out, "Cleaned %s -> %s: %d -> %d chars\n",
					filepath.Base(s.Source), filepath.Base(s.Output), s.InputChars, s.OutputChars)
			}
			fmt.Fprintf(out, "Processed %d file(s)\n", len(stats))
			return nil
		}),
	}
}

func newBuildPayloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build-payload <clean-dom>",
		Short: "Build the model request for a failing test",
		Args:  cobra.ExactArgs(1),
		RunE: runStage(func(cmd *cobra.Command, args []string) error {
			pl, err := a.pipeline()
			if err != nil {
				return err
			}
			prep, err := pl.Prepare(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Test: %s\n", prep.Context.TestName)
			fmt.Fprintf(out, "Payload saved to %s\n", prep.PayloadPath)
			fmt.Fprintf(out, "Metrics: %d test lines, %d DOM chars, %d payload bytes\n",
				prep.Metrics.TestLines, prep.Metrics.DOMChars, prep.Metrics.PayloadBytes)
			return nil
		}),
	}
}

func newParseFixCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-fix <reply>",
		Short: "Validate a model reply and save its fix",
		Long: `Extracts the structured reply from the model's raw text, validates it against
the fix schema, checks that the fix applies to the file as it is now and
writes the fix data artifact. The source file is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: runStage(func(cmd *cobra.Command, args []string) error {
			pl, err := a.pipeline()
			if err != nil {
				return err
			}
			resp, path, err := pl.ParseFromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Analysis: %s\n", resp.Analysis)
			fmt.Fprintf(out, "Fix: %s:%d:%d\n", resp.Fix.File, resp.Fix.Line, resp.Fix.Column)
			fmt.Fprintf(out, "Fix data saved to %s\n", path)
			return nil
		}),
	}
}

func newApplyFixCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply-fix <fix-data>",
		Short: "Apply a saved fix to the test source",
		Args:  cobra.ExactArgs(1),
		RunE: runStage(func(cmd *cobra.Command, args []string) error {
			pl, err := a.pipeline()
			if err != nil {
				return err
			}
			outcome, err := pl.ApplyFromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printOutcome(cmd, outcome)
			return nil
		}),
	}
}

func newRevertCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <file>",
		Short: "Restore a file from its most recent backup",
		Args:  cobra.ExactArgs(1),
		RunE: runStage(func(cmd *cobra.Command, args []string) error {
			pl, err := a.pipeline()
			if err != nil {
				return err
			}
			last, found := pl.LastFix(args[0])
			if !pl.Revert(args[0]) {
				return fmt.Errorf("no backup found for '%s'", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reverted %s\n", args[0])
			if found {
				fmt.Fprintf(out, "Undid run %s: line %d is %s again\n",
					last.RunID, last.Result.Line, strings.TrimSpace(last.Result.OldLine))
			}
			return nil
		}),
	}
}

func newHealCmd(a *app) *cobra.Command {
	var responsePath string

	cmd := &cobra.Command{
		Use:   "heal <dom>",
		Short: "Run the whole pipeline for one failing test",
		Long: `Builds the model request for a DOM artifact, reads the model's reply from
--response, validates it and applies the fix. Every intermediate artifact is
written along the way.`,
		Args: cobra.ExactArgs(1),
		RunE: runStage(func(cmd *cobra.Command, args []string) error {
			pl, err := a.pipeline()
			if err != nil {
				return err
			}
			outcome, err := pl.Heal(cmd.Context(), args[0], pipeline.FileResponder{Path: responsePath})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Analysis: %s\n", outcome.Analysis)
			printOutcome(cmd, outcome)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&responsePath, "response", "r", "", "file holding the model's raw reply")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func printOutcome(cmd *cobra.Command, outcome *pipeline.Outcome) {
	out := cmd.OutOrStdout()
	s := outcome.Summary
	fmt.Fprintf(out, "Applied fix to %s:%d\n", s.Result.File, s.Result.Line)
	fmt.Fprintf(out, "- %s\n", strings.TrimSpace(s.Result.OldLine))
	fmt.Fprintf(out, "+ %s\n", strings.TrimSpace(s.Result.NewLine))
	fmt.Fprintf(out, "Backup: %s\n", s.Backup.BackupPath)
	fmt.Fprintf(out, "Summary saved to %s\n", outcome.SummaryPath)
}
