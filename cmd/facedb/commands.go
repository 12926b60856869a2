package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path"
	"time"

	"github.com/maruel/ksid"
	"github.com/spf13/cobra"

	"github.com/maruel/facedb/internal/models"
	"github.com/maruel/facedb/internal/store"
	"github.com/maruel/facedb/internal/watch"
)

// noStore marks commands that run without opening the data directory.
const noStore = "facedb/no-store"

func newRootCmd(ll *slog.LevelVar) *cobra.Command {
	a := &app{ll: ll}
	root := &cobra.Command{
		Use:           "facedb",
		Short:         "Manage a directory of persons and their faces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[noStore] != "" {
				return nil
			}
			return a.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	a.addFlags(root)
	root.AddCommand(
		newLsCmd(a),
		newGetCmd(a),
		newPutSubjectCmd(a),
		newPutSampleCmd(a),
		newImportCmd(a),
		newExportCmd(a),
		newRmCmd(a),
		newClearCmd(a),
		newWatchCmd(a),
		newSyncCmd(a),
		newLogCmd(a),
		newSchemaCmd(),
	)
	return root
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [subject]",
		Short: "List subjects, or the samples of a subject",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []string
			var err error
			if len(args) == 0 {
				ids, err = a.rw.SubjectIDs()
			} else {
				ids, err = a.rw.SampleIDs(args[0])
			}
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, id := range ids {
				if _, err := fmt.Fprintln(w, id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var format string
	var withSamples bool
	cmd := &cobra.Command{
		Use:   "get <subject> [sample]",
		Short: "Print a subject, an aggregate or a sample",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any
			switch {
			case len(args) == 2:
				f, ok, err := a.rw.Sample(args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("sample %s/%s not found", args[0], args[1])
				}
				v = f
			case withSamples:
				agg, ok, err := a.rw.Aggregate(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("subject %s not found", args[0])
				}
				v = agg
			default:
				p, ok, err := a.rw.Subject(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("subject %s not found", args[0])
				}
				v = p
			}
			return printValue(cmd.OutOrStdout(), format, v)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatJSON, "Output format (json, yaml)")
	cmd.Flags().BoolVarP(&withSamples, "aggregate", "a", false, "Include the samples of the subject")
	return cmd
}

func newPutSubjectCmd(a *app) *cobra.Command {
	var id, name string
	var attrs map[string]string
	cmd := &cobra.Command{
		Use:   "put-subject",
		Short: "Create or update a subject",
		Long:  "Create or update a subject. Fields not given keep their stored value. An empty attribute value removes the attribute.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				id = ksid.NewID().String()
			}
			now := time.Now().UTC()
			p := &models.Person{ID: id, CreateTime: now}
			old, ok, err := a.files.Subject(id)
			if err != nil {
				return err
			}
			if ok {
				cp := *old
				cp.Attributes = maps.Clone(old.Attributes)
				p = &cp
			}
			if cmd.Flags().Changed("name") {
				p.Name = name
			}
			for k, v := range attrs {
				if v == "" {
					delete(p.Attributes, k)
					continue
				}
				if p.Attributes == nil {
					p.Attributes = map[string]string{}
				}
				p.Attributes[k] = v
			}
			p.UpdateTime = now
			if err := logNotifyError(a.rw.SaveSubject(p)); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Subject identifier (generated if empty)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "Attribute as key=value, repeatable")
	return cmd
}

func newPutSampleCmd(a *app) *cobra.Command {
	var id, source string
	var embedding []float32
	cmd := &cobra.Command{
		Use:   "put-sample <subject>",
		Short: "Create or update a sample of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subjectID := args[0]
			if id == "" {
				id = ksid.NewID().String()
			}
			now := time.Now().UTC()
			f := &models.Face{ID: id, CreateTime: now}
			old, ok, err := a.files.Sample(subjectID, id)
			if err != nil {
				return err
			}
			if ok {
				cp := *old
				f = &cp
			}
			if cmd.Flags().Changed("source") {
				f.Source = source
			}
			if cmd.Flags().Changed("embedding") {
				f.Embedding = embedding
			}
			f.UpdateTime = now
			if err := logNotifyError(a.rw.SaveSample(subjectID, f)); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Sample identifier (generated if empty)")
	cmd.Flags().StringVar(&source, "source", "", "Where the face comes from")
	cmd.Flags().Float32SliceVar(&embedding, "embedding", nil, "Embedding vector, comma separated")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file|-]",
		Short: "Save a stream of aggregates read as JSON",
		Long:  `Save a stream of {"subject": {...}, "samples": [...]} JSON documents. Each record is subject to last-write-wins.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			d := json.NewDecoder(r)
			n := 0
			for {
				var agg aggregate
				if err := d.Decode(&agg); err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					return fmt.Errorf("failed to parse aggregate %d: %w", n+1, err)
				}
				if agg.Subject == nil {
					return fmt.Errorf("aggregate %d has no subject", n+1)
				}
				if err := logNotifyError(a.rw.SaveAggregate(agg)); err != nil {
					return fmt.Errorf("failed to save aggregate %s: %w", agg.Subject.ID, err)
				}
				n++
			}
			slog.Info("Imported aggregates", "count", n)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file|-]",
		Short: "Write every aggregate as one JSON document per line",
		Long:  "Write every aggregate as one JSON document per line, in the format read by import.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			w := cmd.OutOrStdout()
			if len(args) == 1 && args[0] != "-" {
				f, cerr := os.Create(args[0])
				if cerr != nil {
					return cerr
				}
				defer func() {
					if err2 := f.Close(); err == nil {
						err = err2
					}
				}()
				w = f
			}
			e := json.NewEncoder(w)
			ids, err := a.rw.SubjectIDs()
			if err != nil {
				return err
			}
			n := 0
			for _, id := range ids {
				agg, ok, err := a.rw.Aggregate(id)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := e.Encode(agg); err != nil {
					return fmt.Errorf("failed to write aggregate %s: %w", id, err)
				}
				n++
			}
			slog.Info("Exported aggregates", "count", n)
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <subject> [sample]",
		Short: "Delete a subject with all its samples, or a single sample",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 2 {
				return logNotifyError(a.rw.DeleteSample(args[0], args[1]))
			}
			return logNotifyError(a.rw.DeleteSubject(args[0]))
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <subject>",
		Short: "Delete all the samples of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return logNotifyError(a.rw.ClearSamples(args[0]))
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print changes made to the data directory by other processes",
		Long:  "Print changes made to the data directory by other processes. The git history and the mirror, when enabled, follow the changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var ls store.Listeners[*models.Person, *models.Face]
			for _, l := range a.listeners {
				ls.Add(l)
			}
			ls.Add(newPrinter(cmd.OutOrStdout()))
			w, err := watch.New[*models.Person, *models.Face](a.dataDir, a.files, &ls)
			if err != nil {
				return err
			}
			slog.InfoContext(cmd.Context(), "Watching", "dir", a.dataDir)
			return w.Run(cmd.Context())
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the mirror from the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireMirror(); err != nil {
				return err
			}
			n, err := a.mirror.Sync(a.files)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "synced %d record(s)\n", n)
			return err
		},
	}
}

func newLogCmd(a *app) *cobra.Command {
	var format string
	var limit int
	cmd := &cobra.Command{
		Use:   "log [subject [sample]]",
		Short: "Show the change history",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireHistory(); err != nil {
				return err
			}
			commits, err := a.hist.History(path.Join(args...), limit)
			if err != nil {
				return err
			}
			if format != formatText {
				return printValue(cmd.OutOrStdout(), format, commits)
			}
			w := cmd.OutOrStdout()
			for _, c := range commits {
				if _, err := fmt.Fprintf(w, "%.8s %s %s\n", c.Hash, c.When.UTC().Format(time.RFC3339), c.Message); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format (text, json, yaml)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of commits, 0 for all")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "schema [subject|sample]",
		Short:       "Print the JSON schema of a data file",
		Args:        cobra.MaximumNArgs(1),
		ValidArgs:   []string{"subject", "sample"},
		Annotations: map[string]string{noStore: "1"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any = &models.Person{}
			if len(args) == 1 {
				switch args[0] {
				case "subject":
				case "sample":
					v = &models.Face{}
				default:
					return fmt.Errorf("unknown record kind %q, want subject or sample", args[0])
				}
			}
			data, err := models.Schema(v)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
