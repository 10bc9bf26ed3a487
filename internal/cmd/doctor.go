package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/doctor"
)

var (
	doctorJSON         bool
	doctorSkipUpstream bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check warden configuration, corpus, and storage health",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
	doctorCmd.Flags().BoolVar(&doctorSkipUpstream, "skip-upstream", false, "skip LLM connectivity checks")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "doctor")
	defer span.End()

	report := doctor.Run(ctx, doctor.Options{SkipUpstream: doctorSkipUpstream})

	if doctorJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		for _, c := range report.Checks {
			fmt.Printf("%-4s  %-20s %s\n", c.Status, c.Name, c.Message)
			if c.Fix != "" && c.Status != "pass" {
				fmt.Printf("      %-20s fix: %s\n", "", c.Fix)
			}
		}
		fmt.Printf("\n%d pass, %d warn, %d fail\n",
			report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
	}

	if report.Status == "fail" {
		return fmt.Errorf("doctor found %d failing checks", report.Summary.Fail)
	}
	return nil
}
