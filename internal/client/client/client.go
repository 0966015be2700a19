package client

import (
	"context"

	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/dmitrijs2005/homesync/internal/wire"
)

// Client is the remote surface the CLI and the replica syncer depend on.
type Client interface {
	Close() error
	Ping(ctx context.Context) error
	Push(ctx context.Context, recs []models.Record) ([]PushResult, error)
	Pull(ctx context.Context, kind string, afterSeq int64, limit int) (*wire.PullResponse, error)
	Insert(ctx context.Context, kind, id string, attrs models.Attributes) (models.Record, error)
	Update(ctx context.Context, kind, id string, patch models.Attributes) (models.Record, error)
	Delete(ctx context.Context, kind, id string) (models.Record, error)
	BulkDelete(ctx context.Context, kind string, ids []string) ([]BulkDeleteResult, error)
	Get(ctx context.Context, kind, id string, withDeleted bool) (models.Record, error)
	List(ctx context.Context, req wire.ListRequest) (*wire.ListResponse, error)
}

// PushResult is one pushed record's outcome. Record holds the server's
// winner; Err is an *ItemError when the server rejected the record.
type PushResult struct {
	Kind    string
	ID      string
	Outcome string
	Record  *models.Record
	Err     error
}

type BulkDeleteResult struct {
	ID     string
	Record *models.Record
	Err    error
}
