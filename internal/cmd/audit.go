package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	auditTenant string
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the signed decision log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List decision records, newest first",
	RunE:  runAuditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify every record's HMAC signature",
	RunE:  runAuditVerify,
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export decision records as JSONL to stdout",
	RunE:  runAuditExport,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditTenant, "tenant", "", "filter by tenant ID (default: all)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum records to list")
	auditCmd.AddCommand(auditListCmd, auditVerifyCmd, auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "audit.list")
	defer span.End()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	records, err := p.decisions.List(ctx, auditTenant, auditLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no decision records")
		return nil
	}
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", rec.ID, err)
		}
		fmt.Println(string(line))
	}
	return nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "audit.verify")
	defer span.End()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.decisions.Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("checked %d records: %d valid, %d tampered\n",
		report.Checked, report.Valid, len(report.Tampered))
	for _, id := range report.Tampered {
		fmt.Printf("  TAMPERED: %s\n", id)
	}
	if len(report.Tampered) > 0 {
		return fmt.Errorf("%d tampered records", len(report.Tampered))
	}
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "audit.export")
	defer span.End()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	n, err := p.decisions.ExportJSONL(ctx, os.Stdout, auditTenant)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d records\n", n)
	return nil
}
