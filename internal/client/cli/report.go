package cli

import (
	"fmt"
	"sort"

	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/projection"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/spf13/cobra"
)

// NewReportCommand creates the report command and its subcommands. Reports
// read the local replica.
func NewReportCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summaries computed from the local replica",
	}
	cmd.AddCommand(newBalanceCommand(opts))
	cmd.AddCommand(newCampaignCommand(opts))
	cmd.AddCommand(newTransactionsCommand(opts))
	return cmd
}

func newBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <wallet-id>",
		Short: "Sum of a wallet's transactions, in minor units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := opts.openLocal(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			total, skipped, err := domain.WalletBalance(ctx, l.store, l.session, args[0])
			if err != nil {
				return err
			}
			p := opts.printer(cmd.OutOrStdout())
			if p.format == "json" {
				return p.json(map[string]any{"walletId": args[0], "balance": total, "skipped": skippedOf(skipped)})
			}
			fmt.Fprintf(p.w, "%s: %d\n", args[0], total)
			printSkipped(p, skipped)
			return nil
		},
	}
}

func newCampaignCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "campaign <campaign-id>",
		Short: "Savings contributions of a campaign per member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := opts.openLocal(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			totals, skipped, err := domain.CampaignTotals(ctx, l.store, l.session, args[0])
			if err != nil {
				return err
			}
			p := opts.printer(cmd.OutOrStdout())
			if p.format == "json" {
				return p.json(map[string]any{"campaignId": args[0], "totals": totals, "skipped": skippedOf(skipped)})
			}
			members := make([]string, 0, len(totals))
			for m := range totals {
				members = append(members, m)
			}
			sort.Strings(members)
			for _, m := range members {
				fmt.Fprintf(p.w, "%s: %d\n", m, totals[m])
			}
			printSkipped(p, skipped)
			return nil
		},
	}
}

func newTransactionsCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Latest transactions with their wallet names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, err := opts.openLocal(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			q := projection.Query{Order: store.DefaultOrder, Limit: limit}
			rows, skipped, err := domain.TransactionsWithWallets(ctx, l.store, l.session, q)
			if err != nil {
				return err
			}

			p := opts.printer(cmd.OutOrStdout())
			if p.format == "json" {
				return p.json(map[string]any{"transactions": rows, "skipped": skippedOf(skipped)})
			}
			for _, row := range rows {
				wallet := "?"
				if row.Right != nil {
					wallet = row.Right.Value.Name
				}
				tx := row.Left.Value
				fmt.Fprintf(p.w, "%s %s %d %s %s\n",
					tx.OccurredAt.Format("2006-01-02"), row.Left.ID, tx.Amount, wallet, tx.Category)
			}
			printSkipped(p, skipped)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum transactions")
	return cmd
}

func skippedOf(s []projection.Skipped) []skippedRecord {
	out := make([]skippedRecord, 0, len(s))
	for _, it := range s {
		out = append(out, skippedRecord{ID: it.ID, Error: it.Err.Error()})
	}
	return out
}

func printSkipped(p printer, s []projection.Skipped) {
	for _, it := range s {
		fmt.Fprintf(p.w, "skipped %s/%s: %v\n", it.Kind, it.ID, it.Err)
	}
}
