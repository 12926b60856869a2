package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/maruel/facedb/internal/models"
	"github.com/maruel/facedb/internal/store"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatText = "text"
)

// printValue writes v as indented JSON or as YAML. YAML keys are the JSON
// field names.
func printValue(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	switch format {
	case formatJSON:
		data = append(data, '\n')
	case formatYAML:
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		if data, err = yaml.Marshal(generic); err != nil {
			return fmt.Errorf("failed to marshal: %w", err)
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	_, err = w.Write(data)
	return err
}

// newPrinter returns a listener writing one line per change to w.
func newPrinter(w io.Writer) listener {
	return &store.ListenerFuncs[*models.Person, *models.Face]{
		SubjectUpdate: func(p *models.Person) error {
			_, err := fmt.Fprintf(w, "update subject %s\n", p.ID)
			return err
		},
		SampleUpdate: func(subjectID string, f *models.Face) error {
			_, err := fmt.Fprintf(w, "update sample %s/%s\n", subjectID, f.ID)
			return err
		},
		AggregateDelete: func(subjectID string) error {
			_, err := fmt.Fprintf(w, "delete subject %s\n", subjectID)
			return err
		},
		SampleDelete: func(subjectID, sampleID string) error {
			_, err := fmt.Fprintf(w, "delete sample %s/%s\n", subjectID, sampleID)
			return err
		},
		SamplesCleared: func(subjectID string) error {
			_, err := fmt.Fprintf(w, "clear samples %s\n", subjectID)
			return err
		},
	}
}
