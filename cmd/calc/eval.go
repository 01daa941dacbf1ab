package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
	"github.com/vogtb/go-spreadsheet/packages/xlsx"
	"github.com/xuri/excelize/v2"
)

func newEvalCommand(a *app) *cobra.Command {
	var sheet, out string
	cmd := &cobra.Command{
		Use:   "eval FILE.xlsx",
		Short: "Recalculate a workbook and print its values",
		Long: `Load a workbook, recalculate every formula with this engine and print
each non-empty cell as Sheet!A1<TAB>value.`,
		Args: cobra.ExactArgs(1),
		RunE: a.run(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			s, err := xlsx.Load(args[0], a.options()...)
			if err != nil {
				return err
			}
			a.logger.Info("workbook loaded", slog.String("path", args[0]), slog.Int("sheets", len(s.ListSheets())))

			sheets := s.ListSheets()
			if sheet != "" {
				if _, ok := s.SheetID(sheet); !ok {
					return spreadsheet.ErrSheetNotFound(sheet)
				}
				sheets = []string{sheet}
			}
			for _, name := range sheets {
				if err := printSheet(cmd.OutOrStdout(), s, name); err != nil {
					return err
				}
			}

			if out != "" {
				if err := xlsx.Save(s, out); err != nil {
					return err
				}
				a.logger.Info("workbook saved", slog.String("path", out))
			}
			return a.report(cmd.OutOrStdout(), s)
		}),
	}
	cmd.Flags().StringVarP(&sheet, "sheet", "s", "", "only print this sheet")
	cmd.Flags().StringVarP(&out, "out", "o", "", "save the recalculated workbook to this path")
	return cmd
}

func printSheet(w io.Writer, s *spreadsheet.Spreadsheet, name string) error {
	id, _ := s.SheetID(name)
	values, err := s.GetSheetValues(id)
	if err != nil {
		return err
	}
	for r, row := range values {
		for c, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s!%s\t%s\n", name, cell, formatValue(value))
		}
	}
	return nil
}

func formatValue(v spreadsheet.Primitive) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strings.ToUpper(strconv.FormatBool(v))
	case *spreadsheet.SpreadsheetError:
		return v.String()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
