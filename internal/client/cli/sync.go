package cli

import (
	"fmt"
	"sort"

	"github.com/dmitrijs2005/homesync/internal/client/client"
	"github.com/dmitrijs2005/homesync/internal/client/replica"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange changes with the server",
		Long: `Push local changes made since the last sync, keep whichever version of
each record was written last, then pull what other devices changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			l, err := opts.openLocal(ctx)
			if err != nil {
				return err
			}
			defer l.Close()
			c, err := opts.remote()
			if err != nil {
				return err
			}
			defer c.Close()

			syncOpts := []replica.Option{
				replica.WithLogger(opts.log),
				replica.WithPullLimit(opts.cfg.PullLimit),
			}
			if len(kinds) > 0 {
				syncOpts = append(syncOpts, replica.WithKinds(kinds...))
			}
			rep, err := replica.NewSyncer(l.store, c, l.meta, l.session, syncOpts...).Sync(ctx)
			if err != nil {
				return err
			}
			return printReport(opts.printer(cmd.OutOrStdout()), rep)
		},
	}
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "kinds to sync (default all)")
	return cmd
}

func printReport(p printer, rep replica.Report) error {
	if p.format == "json" {
		failures := make([]map[string]string, 0, len(rep.Failures))
		for _, f := range rep.Failures {
			failures = append(failures, map[string]string{"kind": f.Kind, "id": f.ID, "error": f.Err.Error()})
		}
		return p.json(map[string]any{
			"pushed":   rep.Pushed,
			"pulled":   rep.Pulled,
			"outcomes": rep.Outcomes,
			"skipped":  rep.Skipped,
			"failures": failures,
		})
	}

	fmt.Fprintf(p.w, "pushed %d, pulled %d\n", rep.Pushed, rep.Pulled)
	outcomes := make([]string, 0, len(rep.Outcomes))
	for o := range rep.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(p.w, "  %s: %d\n", o, rep.Outcomes[reconcile.Outcome(o)])
	}
	for _, k := range rep.Skipped {
		fmt.Fprintf(p.w, "skipped kind %s\n", k)
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(p.w, "failed %s/%s: %v\n", f.Kind, f.ID, f.Err)
	}
	return nil
}

// NewPingCommand creates the ping command.
func NewPingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// ping needs no token
			c, err := client.NewGRPCClient(opts.cfg.ServerEndpointAddr, opts.cfg.AccessToken,
				client.WithTimeout(opts.cfg.RequestTimeout))
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}
