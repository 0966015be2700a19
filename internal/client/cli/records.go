package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/projection"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"github.com/spf13/cobra"
)

func parseData(data string) (models.Attributes, error) {
	attrs, err := codec.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("invalid --data JSON: %w", err)
	}
	return attrs, nil
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(opts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "insert <kind> [id]",
		Short: "Create a record, or bring back a deleted one",
		Long: `Create a record. Without an id a UUID is generated. Inserting over a
deleted record resurrects it with the new attributes.

Example:
  homesync insert wallets w1 --data '{"name":"Cash","currency":"EUR"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseData(data)
			if err != nil {
				return err
			}
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			rec, err := opts.insert(cmd.Context(), args[0], id, attrs)
			if err != nil {
				return err
			}
			return opts.printer(cmd.OutOrStdout()).record(rec)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "{}", "attributes as a JSON object")
	return cmd
}

func (o *RootOptions) insert(ctx context.Context, kind, id string, attrs models.Attributes) (models.Record, error) {
	if o.Remote {
		c, err := o.remote()
		if err != nil {
			return models.Record{}, err
		}
		defer c.Close()
		return c.Insert(ctx, kind, id, attrs)
	}

	l, err := o.openLocal(ctx)
	if err != nil {
		return models.Record{}, err
	}
	defer l.Close()
	scope, err := l.scope(kind)
	if err != nil {
		return models.Record{}, err
	}
	return l.manager.Insert(ctx, scope, kind, id, attrs)
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	var patch string

	cmd := &cobra.Command{
		Use:   "update <kind> <id>",
		Short: "Patch a live record",
		Long: `Apply a JSON merge patch to a live record: null removes a key and
nested objects merge. Deleted records are not found.

Example:
  homesync update wallets w1 --patch '{"name":"Pocket","archived":null}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseData(patch)
			if err != nil {
				return err
			}
			rec, err := opts.update(cmd.Context(), args[0], args[1], attrs)
			if err != nil {
				return err
			}
			return opts.printer(cmd.OutOrStdout()).record(rec)
		},
	}
	cmd.Flags().StringVarP(&patch, "patch", "p", "{}", "merge patch as a JSON object")
	return cmd
}

func (o *RootOptions) update(ctx context.Context, kind, id string, patch models.Attributes) (models.Record, error) {
	if o.Remote {
		c, err := o.remote()
		if err != nil {
			return models.Record{}, err
		}
		defer c.Close()
		return c.Update(ctx, kind, id, patch)
	}

	l, err := o.openLocal(ctx)
	if err != nil {
		return models.Record{}, err
	}
	defer l.Close()
	scope, err := l.scope(kind)
	if err != nil {
		return models.Record{}, err
	}
	return l.manager.Update(ctx, scope, kind, id, patch)
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kind> <id>...",
		Short: "Soft-delete records",
		Long:  "Replace records with tombstones. Each id is deleted on its own; one failure does not stop the rest.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := opts.delete(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}

			p := opts.printer(cmd.OutOrStdout())
			if p.format == "json" {
				if err := p.json(items); err != nil {
					return err
				}
			} else {
				for _, it := range items {
					if it.Error != "" {
						fmt.Fprintf(p.w, "%s/%s: %s\n", args[0], it.ID, it.Error)
						continue
					}
					fmt.Fprintf(p.w, "%s/%s deleted\n", args[0], it.ID)
				}
			}

			failed := 0
			for _, it := range items {
				if it.Error != "" {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletes failed", failed, len(items))
			}
			return nil
		},
	}
}

type deleteItem struct {
	ID     string         `json:"id"`
	Record *models.Record `json:"record,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (o *RootOptions) delete(ctx context.Context, kind string, ids []string) ([]deleteItem, error) {
	out := make([]deleteItem, 0, len(ids))

	if o.Remote {
		c, err := o.remote()
		if err != nil {
			return nil, err
		}
		defer c.Close()
		res, err := c.BulkDelete(ctx, kind, ids)
		if err != nil {
			return nil, err
		}
		for _, r := range res {
			out = append(out, deleteItem{ID: r.ID, Record: r.Record, Error: errString(r.Err)})
		}
		return out, nil
	}

	l, err := o.openLocal(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	scope, err := l.scope(kind)
	if err != nil {
		return nil, err
	}
	res, err := l.manager.BulkSoftDelete(ctx, scope, kind, ids)
	if err != nil {
		return nil, err
	}
	for _, it := range res.Items {
		item := deleteItem{ID: it.ID, Error: errString(it.Err)}
		if it.Err == nil {
			rec := it.Record
			item.Record = &rec
		}
		out = append(out, item)
	}
	return out, nil
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	var withDeleted bool

	cmd := &cobra.Command{
		Use:   "get <kind> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := opts.get(cmd.Context(), args[0], args[1], withDeleted)
			if err != nil {
				return err
			}
			return opts.printer(cmd.OutOrStdout()).record(rec)
		},
	}
	cmd.Flags().BoolVar(&withDeleted, "deleted", false, "show the record even when it is a tombstone")
	return cmd
}

func (o *RootOptions) get(ctx context.Context, kind, id string, withDeleted bool) (models.Record, error) {
	if o.Remote {
		c, err := o.remote()
		if err != nil {
			return models.Record{}, err
		}
		defer c.Close()
		return c.Get(ctx, kind, id, withDeleted)
	}

	l, err := o.openLocal(ctx)
	if err != nil {
		return models.Record{}, err
	}
	defer l.Close()
	scope, err := l.scope(kind)
	if err != nil {
		return models.Record{}, err
	}
	reader, err := tenant.NewReader(l.store, scope)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := reader.Get(ctx, kind, id)
	if err != nil {
		return models.Record{}, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	if rec.IsDeleted() && !withDeleted {
		return models.Record{}, fmt.Errorf("get %s/%s: %w", kind, id, common.ErrorNotFound)
	}
	return rec, nil
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Filter      string
	OrderBy     string
	WithDeleted bool
	Limit       int
	Offset      int
	PageToken   string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List records of a kind",
		Long: `List records of a kind, newest first unless --order-by says otherwise.
Records whose attributes no longer fit the kind are reported as skipped.

Example:
  homesync list personalTransactions --filter 'amount < 0 AND category = "food"' --order-by 'amount'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "AIP-160 filter")
	cmd.Flags().StringVar(&opts.OrderBy, "order-by", "", "order, e.g. \"amount desc\"")
	cmd.Flags().BoolVar(&opts.WithDeleted, "deleted", false, "include tombstones")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum records")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "records to skip (local)")
	cmd.Flags().StringVar(&opts.PageToken, "page-token", "", "page token from a previous --remote list")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions, kind string) error {
	ctx := cmd.Context()
	p := opts.printer(cmd.OutOrStdout())

	if opts.Remote {
		c, err := opts.remote()
		if err != nil {
			return err
		}
		defer c.Close()
		resp, err := c.List(ctx, wire.ListRequest{
			Kind:        kind,
			Filter:      opts.Filter,
			OrderBy:     opts.OrderBy,
			PageSize:    opts.Limit,
			PageToken:   opts.PageToken,
			WithDeleted: opts.WithDeleted,
		})
		if err != nil {
			return err
		}
		skipped := make([]skippedRecord, 0, len(resp.Skipped))
		for _, s := range resp.Skipped {
			skipped = append(skipped, skippedRecord{ID: s.ID, Error: s.Error})
		}
		if p.format == "json" {
			return p.json(resp)
		}
		if err := p.records(resp.Records, skipped); err != nil {
			return err
		}
		if resp.NextPageToken != "" {
			fmt.Fprintf(p.w, "next page: --page-token %s\n", resp.NextPageToken)
		}
		return nil
	}

	recs, skipped, err := opts.listLocal(ctx, kind)
	if err != nil {
		return err
	}
	return p.records(recs, skipped)
}

func (o *ListOptions) listLocal(ctx context.Context, kind string) ([]models.Record, []skippedRecord, error) {
	k, err := domain.Lookup(kind)
	if err != nil {
		return nil, nil, err
	}
	expr, err := projection.ParseFilter(k.Schema, o.Filter)
	if err != nil {
		return nil, nil, err
	}
	order, err := projection.ParseOrder(k.Schema, o.OrderBy)
	if err != nil {
		return nil, nil, err
	}

	l, err := o.openLocal(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer l.Close()
	scope, err := l.scope(kind)
	if err != nil {
		return nil, nil, err
	}
	reader, err := tenant.NewReader(l.store, scope)
	if err != nil {
		return nil, nil, err
	}

	recs := []models.Record{}
	var skipped []skippedRecord
	for rec, err := range reader.Scan(ctx, kind, store.ScanOptions{
		Filter:         expr,
		Order:          order,
		IncludeDeleted: o.WithDeleted,
		Limit:          o.Limit,
		Offset:         o.Offset,
	}) {
		if err != nil {
			return nil, nil, err
		}
		if err := domain.Validate(rec.Kind, rec.Attributes); err != nil {
			skipped = append(skipped, skippedRecord{ID: rec.ID, Error: err.Error()})
			continue
		}
		recs = append(recs, rec)
	}
	return recs, skipped, nil
}
