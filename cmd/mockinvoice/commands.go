package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.io/infrasutra/mockinvoice/internal/invoice"
)

func newGenerateCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a batch of generated invoice emails as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if count == 0 {
				count = a.svc.DefaultCount()
			}
			records, err := a.svc.Generate(count)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				Data        []invoice.Email `json:"data"`
				Count       int             `json:"count"`
				GeneratedAt string          `json:"generated_at"`
			}{records, len(records), time.Now().UTC().Format(time.RFC3339)})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of invoices (default: random within the per-request bounds)")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate invoices and append them to the configured storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			records, err := a.svc.Seed(cmd.Context(), count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully seeded database with %d invoices\n", len(records))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of invoices to store")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored invoice",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.svc.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All stored invoices cleared successfully")
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the stored invoice count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			stats, err := a.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newDeliverCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Generate invoices and send them through the configured SMTP relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			sent, err := a.svc.Deliver(cmd.Context(), count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d invoices\n", sent)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of invoices to send")
	return cmd
}
