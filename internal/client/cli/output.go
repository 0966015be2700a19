package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/homesync/internal/codec"
	"github.com/dmitrijs2005/homesync/internal/models"
)

// printer writes command results as text lines or one JSON document.
type printer struct {
	format string
	w      io.Writer
}

func (o *RootOptions) printer(w io.Writer) printer {
	return printer{format: o.Format, w: w}
}

func (p printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) record(rec models.Record) error {
	if p.format == "json" {
		return p.json(rec)
	}
	return p.recordLine(rec)
}

func (p printer) records(recs []models.Record, skipped []skippedRecord) error {
	if p.format == "json" {
		return p.json(struct {
			Records []models.Record `json:"records"`
			Skipped []skippedRecord `json:"skipped,omitempty"`
		}{recs, skipped})
	}
	for _, rec := range recs {
		if err := p.recordLine(rec); err != nil {
			return err
		}
	}
	for _, s := range skipped {
		if _, err := fmt.Fprintf(p.w, "skipped %s: %s\n", s.ID, s.Error); err != nil {
			return err
		}
	}
	return nil
}

func (p printer) recordLine(rec models.Record) error {
	attrs, err := codec.Marshal(rec.Attributes)
	if err != nil {
		return err
	}
	state := string(rec.Operation)
	if rec.IsDeleted() {
		state = "deleted " + rec.DeletedAt.Format(time.RFC3339)
	}
	_, err = fmt.Fprintf(p.w, "%s seq=%d updated=%s %s %s\n",
		rec.Key(), rec.Seq, rec.UpdatedAt.Format(time.RFC3339), state, attrs)
	return err
}

type skippedRecord struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}
