package main

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maruel/facedb/internal/codec"
	"github.com/maruel/facedb/internal/config"
	"github.com/maruel/facedb/internal/history"
	"github.com/maruel/facedb/internal/mirror"
	"github.com/maruel/facedb/internal/models"
	"github.com/maruel/facedb/internal/store"
)

type (
	aggregate = store.Aggregate[*models.Person, *models.Face]
	listener  = store.Listener[*models.Person, *models.Face]
)

// app holds the persistent flags and the stores opened from them.
type app struct {
	ll *slog.LevelVar

	dataDir    string
	configPath string
	logLevel   string
	git        bool
	mirrorPath string
	strict     bool

	cfg    *config.Config
	files  *store.FileStore[*models.Person, *models.Face]
	rw     store.ReadWriter[*models.Person, *models.Face]
	hist   *history.Recorder[*models.Person, *models.Face]
	mirror *mirror.Mirror[*models.Person, *models.Face]
	// listeners are attached to files; watch attaches them to its own registry.
	listeners []listener
}

func (a *app) addFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&a.dataDir, "data-dir", "./data", "Data directory")
	f.StringVar(&a.configPath, "config", "", "Config file (default <data-dir>/"+config.FileName+")")
	f.StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.BoolVar(&a.git, "git", false, "Commit every change to a git repository in the data directory")
	f.StringVar(&a.mirrorPath, "mirror", "", "SQLite mirror to serve reads from")
	f.BoolVar(&a.strict, "strict", false, "Reject data files with unknown fields")
}

// open loads the configuration, applies the flags that were set explicitly
// and opens the stores.
func (a *app) open(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = filepath.Join(a.dataDir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("git") {
		cfg.Git.Enabled = a.git
	}
	if flags.Changed("mirror") {
		cfg.MirrorPath = a.mirrorPath
	}
	if flags.Changed("strict") {
		cfg.StrictDecode = a.strict
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	a.ll.Set(level)
	a.cfg = cfg

	c := codec.JSON{Strict: cfg.StrictDecode}
	if a.files, err = store.Open[*models.Person, *models.Face](a.dataDir, c); err != nil {
		return err
	}
	a.rw = a.files
	if cfg.Git.Enabled {
		if a.hist, err = history.Open[*models.Person, *models.Face](a.dataDir, cfg.Git.AuthorName, cfg.Git.AuthorEmail); err != nil {
			return err
		}
		a.listeners = append(a.listeners, a.hist)
	}
	if cfg.MirrorPath != "" {
		p := cfg.MirrorPath
		if !filepath.IsAbs(p) && p != ":memory:" {
			p = filepath.Join(a.dataDir, p)
		}
		if a.mirror, err = mirror.Open[*models.Person, *models.Face](p, c); err != nil {
			return err
		}
		a.listeners = append(a.listeners, a.mirror)
		a.rw = store.NewComposite[*models.Person, *models.Face](a.mirror, a.files)
	}
	for _, l := range a.listeners {
		a.files.AddListener(l)
	}
	slog.Debug("Opened store", "dir", a.dataDir, "git", cfg.Git.Enabled, "mirror", cfg.MirrorPath)
	return nil
}

func (a *app) close() error {
	if a.mirror != nil {
		return a.mirror.Close()
	}
	return nil
}

// logNotifyError reports listener failures without failing the command: the
// store change itself was applied. Other errors are returned unchanged.
func logNotifyError(err error) error {
	if err == nil || !onlyNotifyErrors(err) {
		return err
	}
	slog.Warn("Change applied but some listeners failed", "err", err)
	return nil
}

func onlyNotifyErrors(err error) bool {
	if _, ok := err.(*store.NotifyError); ok {
		return true
	}
	j, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return false
	}
	for _, e := range j.Unwrap() {
		if !onlyNotifyErrors(e) {
			return false
		}
	}
	return true
}

func (a *app) requireMirror() error {
	if a.mirror == nil {
		return errors.New("no mirror configured, use --mirror")
	}
	return nil
}

func (a *app) requireHistory() error {
	if a.hist == nil {
		return errors.New("history is disabled, use --git")
	}
	return nil
}
