package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vogtb/go-spreadsheet/packages/script"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/vogtb/go-spreadsheet/packages/xlsx"
)

func newRunCommand(a *app) *cobra.Command {
	var workbook, out string
	cmd := &cobra.Command{
		Use:   "run SCRIPT.yaml",
		Short: "Replay an edit script and check its expectations",
		Long: `Replay the steps of a YAML edit script against an empty workbook, or
against --workbook, and report every expectation that did not hold. the
command fails when any expectation fails.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open script: %w", err)
			}
			sc, err := script.Parse(f)
			f.Close()
			if err != nil {
				return err
			}
			name := sc.Name
			if name == "" {
				name = args[0]
			}

			var s *spreadsheet.Spreadsheet
			if workbook != "" {
				s, err = xlsx.Load(workbook, a.options()...)
			} else {
				s, err = spreadsheet.NewSpreadsheet(a.options()...)
			}
			if err != nil {
				return err
			}

			r := spreadsheet.WrapSpreadsheet(s, func(line string) { a.logger.Info(line) })
			err = sc.Apply(r)
			var failed *script.ExpectationError
			switch {
			case errors.As(err, &failed):
				fmt.Fprintln(cmd.ErrOrStderr(), failed.Error())
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL\t%s\t%d failed expectation(s)\n", name, len(failed.Failures))
				return fmt.Errorf("script %s failed", name)
			case err != nil:
				return err
			}
			a.logger.Info("script finished", slog.String("script", name), slog.Int("steps", len(sc.Steps)))

			if out != "" {
				if err := xlsx.Save(s, out); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok\t%s\t%d steps\n", name, len(sc.Steps))
			return a.report(cmd.OutOrStdout(), s)
		}),
	}
	cmd.Flags().StringVarP(&workbook, "workbook", "w", "", "start from this workbook instead of an empty one")
	cmd.Flags().StringVarP(&out, "out", "o", "", "save the resulting workbook to this path")
	return cmd
}
