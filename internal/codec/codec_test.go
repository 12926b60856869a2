package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type rec struct {
	ID         string    `json:"id"`
	UpdateTime time.Time `json:"update_time"`
}

func TestJSON(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)

	t.Run("EncodeSingleLine", func(t *testing.T) {
		data, err := JSON{}.Encode(&rec{ID: "alice", UpdateTime: ts})
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if !bytes.HasSuffix(data, []byte("\n")) {
			t.Errorf("expected trailing newline, got %q", data)
		}
		if n := bytes.Count(data, []byte("\n")); n != 1 {
			t.Errorf("expected a single line, got %d newlines in %q", n, data)
		}
		want := `{"id":"alice","update_time":"2024-03-01T12:30:00.0000005Z"}` + "\n"
		if string(data) != want {
			t.Errorf("Encode = %q, want %q", data, want)
		}
	})

	t.Run("DecodeRoundTrip", func(t *testing.T) {
		var got *rec
		if err := (JSON{}).Decode([]byte(`{"id":"alice","update_time":"2024-03-01T12:30:00.0000005Z"}`), &got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.ID != "alice" || !got.UpdateTime.Equal(ts) {
			t.Errorf("unexpected record: %+v", got)
		}
	})

	t.Run("DecodeErrors", func(t *testing.T) {
		tests := []struct {
			name  string
			codec JSON
			data  string
		}{
			{"malformed", JSON{}, `{"id":`},
			{"wrong type", JSON{}, `{"id":42}`},
			{"bad time", JSON{}, `{"id":"a","update_time":"yesterday"}`},
			{"trailing document", JSON{}, `{"id":"a"}{"id":"b"}`},
			{"trailing brace", JSON{}, `{"id":"a"}}`},
			{"trailing bracket", JSON{}, `{"id":"a"}]`},
			{"trailing garbage", JSON{}, `{"id":"a"} x`},
			{"unknown field strict", JSON{Strict: true}, `{"id":"a","extra":1}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var got rec
				err := tt.codec.Decode([]byte(tt.data), &got)
				var de *DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("expected *DecodeError, got %v", err)
				}
			})
		}
	})

	t.Run("UnknownFieldLenient", func(t *testing.T) {
		var got rec
		if err := (JSON{}).Decode([]byte(`{"id":"a","extra":1}`+"\n"), &got); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got.ID != "a" {
			t.Errorf("ID = %q, want a", got.ID)
		}
	})
}

func TestDecodeError(t *testing.T) {
	inner := errors.New("boom")
	err := &DecodeError{Path: "alice/data.json", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("DecodeError does not unwrap to its cause")
	}
	if got, want := err.Error(), "failed to decode alice/data.json: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := (&DecodeError{Err: inner}).Error(), "failed to decode record: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
