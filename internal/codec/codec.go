// Package codec converts typed domain entities to and from the untyped
// attribute maps stored in records, and produces the canonical bytes used
// for storage, sync and fingerprints.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/models"
	"github.com/go-viper/mapstructure/v2"
	"golang.org/x/text/unicode/norm"
)

// RequiredTag marks a struct field that must be present and non-null in
// the attribute map: `sync:"required"`.
const RequiredTag = "sync"

// Encode turns entity into an attribute map. Field names come from json
// tags. Integral numbers become int64, other numbers float64, and strings
// (keys included) are NFC normalised, so equal entities encode identically
// regardless of the device that produced them.
func Encode(entity any) (models.Attributes, error) {
	b, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	attrs, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return attrs, nil
}

// Decode reconstructs T from attrs. Missing optional fields keep their zero
// value. A missing or null required field, or a value whose type does not
// fit the target field, fails with *common.DecodeError.
func Decode[T any](attrs models.Attributes) (T, error) {
	var out T

	if err := checkRequired(reflect.TypeOf(out), attrs); err != nil {
		return out, err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			strictIntegerHook,
		),
	})
	if err != nil {
		return out, &common.DecodeError{Reason: err.Error()}
	}
	if err := dec.Decode(map[string]any(attrs)); err != nil {
		return out, &common.DecodeError{Reason: strings.ReplaceAll(err.Error(), "\n", " ")}
	}
	return out, nil
}

func checkRequired(t reflect.Type, attrs models.Attributes) error {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get(RequiredTag) != "required" {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" {
			name = f.Name
		}
		v, ok := attrs[name]
		if !ok {
			return &common.DecodeError{Field: name, Reason: "required field is missing"}
		}
		if v == nil {
			return &common.DecodeError{Field: name, Reason: "required field is null"}
		}
	}
	return nil
}

// strictIntegerHook rejects fractional numbers headed for integer fields;
// mapstructure would truncate them otherwise.
func strictIntegerHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Float64 && from.Kind() != reflect.Float32 {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f := reflect.ValueOf(data).Float()
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot use fractional number %v as %s", f, to)
		}
	}
	return data, nil
}

// Marshal writes attrs as canonical JSON: keys sorted, no HTML escaping, no
// trailing newline. Equal maps always produce identical bytes.
func Marshal(attrs models.Attributes) ([]byte, error) {
	if attrs == nil {
		attrs = models.Attributes{}
	}
	return canonical(attrs)
}

// Unmarshal parses JSON object bytes into normalised attributes. Empty input
// and null yield an empty map.
func Unmarshal(b []byte) (models.Attributes, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return models.Attributes{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after attributes")
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("attributes must be a JSON object, got %T", raw)
	}
	return models.Attributes(normalizeMap(m)), nil
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[norm.NFC.String(k)] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case string:
		return norm.NFC.String(x)
	case map[string]any:
		return normalizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Normalize returns a normalised deep copy of attrs, in the form Unmarshal
// produces. It fails when attrs holds values that have no JSON form.
func Normalize(attrs models.Attributes) (models.Attributes, error) {
	b, err := Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("normalize attributes: %w", err)
	}
	return Unmarshal(b)
}

// MarshalRecord writes r, normalised, as canonical JSON.
func MarshalRecord(r models.Record) ([]byte, error) {
	return canonical(r.Normalized())
}
