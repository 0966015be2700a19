// Package wire defines the messages of the homesync sync service and their
// mapping onto protobuf Struct values, so schema-less record payloads
// travel over the standard gRPC proto codec.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/models"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode converts a message into a Struct through its JSON form.
func Encode(msg any) (*structpb.Struct, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire encode: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("wire encode: %w", err)
	}
	return out, nil
}

type normalizer interface {
	normalize() error
}

// Decode fills msg from s. Unknown fields are rejected and record
// attributes are normalised the way the codec stores them.
func Decode(s *structpb.Struct, msg any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("wire decode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(msg); err != nil {
		return fmt.Errorf("wire decode: %w", err)
	}
	if n, ok := msg.(normalizer); ok {
		if err := n.normalize(); err != nil {
			return fmt.Errorf("wire decode: %w", err)
		}
	}
	return nil
}

func normalizeRecords(recs []models.Record) error {
	for i := range recs {
		attrs, err := codec.Normalize(recs[i].Attributes)
		if err != nil {
			return fmt.Errorf("record %s: %w", recs[i].Key(), err)
		}
		recs[i].Attributes = attrs
		recs[i] = recs[i].Normalized()
	}
	return nil
}

func normalizeRecord(r *models.Record) error {
	if r == nil {
		return nil
	}
	recs := []models.Record{*r}
	if err := normalizeRecords(recs); err != nil {
		return err
	}
	*r = recs[0]
	return nil
}

// Status is an error carried inside a successful batch response.
type Status struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// PushRequest carries replica versions to reconcile on the server.
type PushRequest struct {
	Records []models.Record `json:"records"`
}

func (r *PushRequest) normalize() error { return normalizeRecords(r.Records) }

// PushResult is the outcome of one pushed record: the winner as stored on
// the server, or an error.
type PushResult struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id"`
	Outcome string         `json:"outcome,omitempty"`
	Record  *models.Record `json:"record,omitempty"`
	Error   *Status        `json:"error,omitempty"`
}

type PushResponse struct {
	Results []PushResult `json:"results"`
}

func (r *PushResponse) normalize() error {
	for i := range r.Results {
		if err := normalizeRecord(r.Results[i].Record); err != nil {
			return err
		}
	}
	return nil
}

// PullRequest asks for records of one kind changed after a cursor.
type PullRequest struct {
	Kind     string `json:"kind"`
	AfterSeq int64  `json:"afterSeq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// PullResponse returns changes in ascending Seq. NextSeq is the cursor for
// the following request; More reports whether another page exists.
type PullResponse struct {
	Records []models.Record `json:"records"`
	NextSeq int64           `json:"nextSeq"`
	More    bool            `json:"more,omitempty"`
}

func (r *PullResponse) normalize() error { return normalizeRecords(r.Records) }

type InsertRequest struct {
	Kind       string            `json:"kind"`
	ID         string            `json:"id,omitempty"`
	Attributes models.Attributes `json:"attributes"`
}

func (r *InsertRequest) normalize() error {
	attrs, err := codec.Normalize(r.Attributes)
	r.Attributes = attrs
	return err
}

// UpdateRequest patches a record; Patch follows JSON merge-patch rules.
type UpdateRequest struct {
	Kind  string            `json:"kind"`
	ID    string            `json:"id"`
	Patch models.Attributes `json:"patch"`
}

func (r *UpdateRequest) normalize() error {
	// nulls in a merge patch are significant, so no round trip here
	return nil
}

type DeleteRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type BulkDeleteRequest struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

type BulkDeleteResult struct {
	ID     string         `json:"id"`
	Record *models.Record `json:"record,omitempty"`
	Error  *Status        `json:"error,omitempty"`
}

type BulkDeleteResponse struct {
	Results []BulkDeleteResult `json:"results"`
}

func (r *BulkDeleteResponse) normalize() error {
	for i := range r.Results {
		if err := normalizeRecord(r.Results[i].Record); err != nil {
			return err
		}
	}
	return nil
}

type GetRequest struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	WithDeleted bool   `json:"withDeleted,omitempty"`
}

// RecordResponse wraps a single record.
type RecordResponse struct {
	Record models.Record `json:"record"`
}

func (r *RecordResponse) normalize() error { return normalizeRecord(&r.Record) }

// ListRequest pages through a kind. Filter is AIP-160 text, OrderBy an
// AIP-132 order ("amount desc").
type ListRequest struct {
	Kind        string `json:"kind"`
	Filter      string `json:"filter,omitempty"`
	OrderBy     string `json:"orderBy,omitempty"`
	PageSize    int    `json:"pageSize,omitempty"`
	PageToken   string `json:"pageToken,omitempty"`
	WithDeleted bool   `json:"withDeleted,omitempty"`
}

type Skipped struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type ListResponse struct {
	Records       []models.Record `json:"records"`
	Skipped       []Skipped       `json:"skipped,omitempty"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func (r *ListResponse) normalize() error { return normalizeRecords(r.Records) }
