// Package models defines the records persisted by the face database.
package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

// Person is a subject: one identity owning zero or more faces.
type Person struct {
	ID         string            `json:"id" jsonschema:"description=Unique person identifier, also the directory name"`
	Name       string            `json:"name,omitempty" jsonschema:"description=Display name"`
	Attributes map[string]string `json:"attributes,omitempty" jsonschema:"description=Free form key/value metadata"`
	CreateTime time.Time         `json:"create_time" jsonschema:"description=Creation timestamp (RFC3339)"`
	UpdateTime time.Time         `json:"update_time" jsonschema:"description=Last modification timestamp (RFC3339), used for last-write-wins"`
}

// GetID returns the person identifier.
func (p *Person) GetID() string { return p.ID }

// GetCreateTime returns when the person was created.
func (p *Person) GetCreateTime() time.Time { return p.CreateTime }

// GetUpdateTime returns when the person was last modified.
func (p *Person) GetUpdateTime() time.Time { return p.UpdateTime }

// Face is a sample: one observation of a person.
type Face struct {
	ID         string    `json:"id" jsonschema:"description=Face identifier, unique within its person"`
	Source     string    `json:"source,omitempty" jsonschema:"description=Where the face was captured from, e.g. an image path or URL"`
	Embedding  []float32 `json:"embedding,omitempty" jsonschema:"description=Face embedding vector"`
	CreateTime time.Time `json:"create_time" jsonschema:"description=Creation timestamp (RFC3339)"`
	UpdateTime time.Time `json:"update_time" jsonschema:"description=Last modification timestamp (RFC3339), used for last-write-wins"`
}

// GetID returns the face identifier.
func (f *Face) GetID() string { return f.ID }

// GetCreateTime returns when the face was created.
func (f *Face) GetCreateTime() time.Time { return f.CreateTime }

// GetUpdateTime returns when the face was last modified.
func (f *Face) GetUpdateTime() time.Time { return f.UpdateTime }

// Schema returns the indented JSON schema of the record type of v.
//
// v must be a struct or a pointer to a struct.
func Schema(v any) ([]byte, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return nil, fmt.Errorf("type must be a struct or pointer to struct, got nil")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type must be a struct or pointer to struct, got %s", t.Kind())
	}
	// Inline properties, no $ref.
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	data, err := json.MarshalIndent(r.ReflectFromType(t), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
