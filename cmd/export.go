package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/mirkored-07/tenderpilot/internal/model"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a finished review to an xlsx workbook",
	Long:  "Writes the checklist, risks and buyer questions of a done job to a spreadsheet for bid teams that work outside the UI.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.GetResult(ctx, args[0])
		if err != nil {
			return err
		}
		if result == nil || !result.Finalized() {
			return fmt.Errorf("job %s has no finished review", args[0])
		}

		file := xlsx.NewFile()
		if err := addChecklistSheet(file, result.Checklist); err != nil {
			return err
		}
		if err := addRisksSheet(file, result.Risks); err != nil {
			return err
		}
		if err := addQuestionsSheet(file, result.BuyerQuestions); err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = args[0] + ".xlsx"
		}
		if err := file.Save(out); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func addChecklistSheet(file *xlsx.File, items []model.ChecklistItem) error {
	sheet, err := file.AddSheet("Checklist")
	if err != nil {
		return err
	}
	header := sheet.AddRow()
	for _, h := range []string{"Class", "Requirement", "Evidence", "Source"} {
		header.AddCell().Value = h
	}
	for _, item := range items {
		row := sheet.AddRow()
		row.AddCell().Value = item.Class
		row.AddCell().Value = item.Text
		row.AddCell().Value = strings.Join(item.EvidenceIDs, ", ")
		row.AddCell().Value = item.Source
	}
	return nil
}

func addRisksSheet(file *xlsx.File, risks []model.Risk) error {
	sheet, err := file.AddSheet("Risks")
	if err != nil {
		return err
	}
	header := sheet.AddRow()
	for _, h := range []string{"Severity", "Risk", "Detail", "Evidence", "Source"} {
		header.AddCell().Value = h
	}
	for _, risk := range risks {
		row := sheet.AddRow()
		row.AddCell().Value = risk.Severity
		row.AddCell().Value = risk.Title
		row.AddCell().Value = risk.Detail
		row.AddCell().Value = strings.Join(risk.EvidenceIDs, ", ")
		row.AddCell().Value = risk.Source
	}
	return nil
}

func addQuestionsSheet(file *xlsx.File, questions []string) error {
	sheet, err := file.AddSheet("Buyer questions")
	if err != nil {
		return err
	}
	sheet.AddRow().AddCell().Value = "Question"
	for _, q := range questions {
		sheet.AddRow().AddCell().Value = q
	}
	return nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (defaults to <job-id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
