// Package codec converts records to and from the bytes stored in data files.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Codec encodes and decodes records.
//
// Decode must return a *DecodeError when data cannot be parsed into v.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// DecodeError is returned when stored bytes do not parse into the expected record.
type DecodeError struct {
	// Path is the data file the bytes came from, if known.
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to decode record: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// JSON encodes records as a single line of JSON followed by a newline.
type JSON struct {
	// Strict rejects documents with fields the record type does not declare.
	Strict bool
}

// Encode implements [Codec].
func (c JSON) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode implements [Codec].
func (c JSON) Decode(data []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(data))
	if c.Strict {
		d.DisallowUnknownFields()
	}
	if err := d.Decode(v); err != nil {
		return &DecodeError{Err: err}
	}
	// Only whitespace may follow the document.
	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return &DecodeError{Err: errors.New("unexpected data after JSON document")}
	}
	return nil
}
