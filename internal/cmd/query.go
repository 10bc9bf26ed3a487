package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/controller"
)

var (
	queryTenant string
	queryJSON   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Run a single query through the safety pipeline",
	Long: `Runs one question through classification, scoped retrieval, the access
guard, and generation, then prints the decision. Single-shot queries do not
touch conversation memory; use "warden chat" for a stateful session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryTenant, "tenant", "", "requesting tenant ID (required)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full decision as JSON")
	_ = queryCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "query")
	defer span.End()

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := validateTenant(p.cfg.Tenants, queryTenant); err != nil {
		return err
	}

	decision, err := p.engine.Query(ctx, controller.Request{
		Tenant: queryTenant,
		Query:  strings.Join(args, " "),
	})
	if err != nil {
		return err
	}

	if queryJSON {
		out, err := formatDecisionJSON(decision)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Println(formatDecision(decision))
	return nil
}

func validateTenant(known []string, tenant string) error {
	for _, t := range known {
		if t == tenant {
			return nil
		}
	}
	return fmt.Errorf("unknown tenant %q (configured: %s)", tenant, strings.Join(known, ", "))
}
