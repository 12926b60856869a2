package models

import (
	"encoding/json"
	"slices"
	"testing"
	"time"
)

func TestSchema(t *testing.T) {
	tests := []struct {
		name     string
		v        any
		wantProp []string
	}{
		{"person", &Person{}, []string{"id", "name", "attributes", "create_time", "update_time"}},
		{"face", Face{}, []string{"id", "source", "embedding", "create_time", "update_time"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Schema(tt.v)
			if err != nil {
				t.Fatalf("failed to build schema: %v", err)
			}
			var got struct {
				Type       string                     `json:"type"`
				Properties map[string]json.RawMessage `json:"properties"`
				Required   []string                   `json:"required"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("failed to parse schema: %v", err)
			}
			if got.Type != "object" {
				t.Errorf("type = %q, want object", got.Type)
			}
			for _, p := range tt.wantProp {
				if _, ok := got.Properties[p]; !ok {
					t.Errorf("missing property %q", p)
				}
			}
			if !slices.Contains(got.Required, "id") || !slices.Contains(got.Required, "update_time") {
				t.Errorf("required = %v", got.Required)
			}
			if slices.Contains(got.Required, "name") || slices.Contains(got.Required, "source") {
				t.Errorf("omitempty field required: %v", got.Required)
			}
		})
	}

	for _, v := range []any{nil, 42, []string{}} {
		if _, err := Schema(v); err == nil {
			t.Errorf("Schema(%T) succeeded", v)
		}
	}
}

func TestJSON(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &Person{ID: "p1", Name: "Ada", CreateTime: ts, UpdateTime: ts}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"p1","name":"Ada","create_time":"2024-01-02T03:04:05Z","update_time":"2024-01-02T03:04:05Z"}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
	if p.GetID() != "p1" || !p.GetUpdateTime().Equal(ts) || !p.GetCreateTime().Equal(ts) {
		t.Errorf("accessors: %+v", p)
	}

	f := &Face{ID: "f1", Embedding: []float32{0.5, -1}, CreateTime: ts, UpdateTime: ts.Add(time.Second)}
	data, err = json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var got Face
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.GetID() != "f1" || !slices.Equal(got.Embedding, f.Embedding) || !got.GetUpdateTime().Equal(f.UpdateTime) {
		t.Errorf("round trip: %+v", got)
	}
}
