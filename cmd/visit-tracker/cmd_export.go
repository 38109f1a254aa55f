package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pr-poehali-dev/emergency-visit-tracker/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write objects, visits and SMS receipts to an Excel workbook",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		data, err := export.BuildReport(a.state.Objects(), time.Now())
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", exportOut)
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print object counts and SMS statistics as JSON",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		objects := a.state.Objects()
		return printJSON(cmd.OutOrStdout(), struct {
			Summary export.Summary  `json:"summary"`
			SMS     export.SmsStats `json:"sms"`
		}{
			Summary: export.Summarize(objects),
			SMS:     export.ComputeSmsStats(objects, time.Now()),
		})
	}),
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "visit-report.xlsx", "output file")
	rootCmd.AddCommand(exportCmd, statsCmd)
}
