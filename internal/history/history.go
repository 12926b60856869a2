// Package history records every applied store mutation as a git commit.
//
// The repository lives in the store root itself. Temporary files and the
// configuration file start with a dot and are never staged explicitly.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/maruel/facedb/internal/store"
)

// Commit is one entry of the history.
type Commit struct {
	Hash    string    `json:"hash" yaml:"hash"`
	Message string    `json:"message" yaml:"message"`
	Author  string    `json:"author" yaml:"author"`
	When    time.Time `json:"when" yaml:"when"`
}

// Recorder is a [store.Listener] committing each notification to git.
type Recorder[S, F store.Record] struct {
	dir   string
	name  string
	email string
	repo  *gogit.Repository

	mu sync.Mutex
}

// Open opens the git repository at dir, initializing it if needed. name and
// email are used as author and committer.
func Open[S, F store.Record](dir, name, email string) (*Recorder[S, F], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if !errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("failed to open git repo: %w", err)
		}
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return &Recorder[S, F]{dir: dir, name: name, email: email, repo: repo}, nil
}

// OnSubjectUpdate implements [store.Listener].
func (r *Recorder[S, F]) OnSubjectUpdate(s S) error {
	id := s.GetID()
	return r.commit("update subject "+id, path.Join(id, store.DataFileName))
}

// OnSampleUpdate implements [store.Listener].
func (r *Recorder[S, F]) OnSampleUpdate(subjectID string, f F) error {
	id := f.GetID()
	return r.commit("update sample "+subjectID+"/"+id, path.Join(subjectID, id, store.DataFileName))
}

// OnAggregateDelete implements [store.Listener].
func (r *Recorder[S, F]) OnAggregateDelete(subjectID string) error {
	return r.commit("delete subject " + subjectID)
}

// OnSampleDelete implements [store.Listener].
func (r *Recorder[S, F]) OnSampleDelete(subjectID, sampleID string) error {
	return r.commit("delete sample " + subjectID + "/" + sampleID)
}

// OnSamplesCleared implements [store.Listener].
func (r *Recorder[S, F]) OnSamplesCleared(subjectID string) error {
	return r.commit("clear samples " + subjectID)
}

// commit stages files and every tracked file that was modified or removed,
// then commits. Nothing to commit is not an error.
func (r *Recorder[S, F]) commit(msg string, files ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, f := range files {
		if _, err := w.Add(f); err != nil {
			return fmt.Errorf("failed to stage %s: %w", f, err)
		}
	}
	now := time.Now()
	sig := &object.Signature{Name: r.name, Email: r.email, When: now}
	_, err = w.Commit(msg, &gogit.CommitOptions{All: true, Author: sig, Committer: sig})
	if errors.Is(err, gogit.ErrEmptyCommit) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CommitCount returns the total number of commits in the repository.
func (r *Recorder[S, F]) CommitCount() (int, error) {
	commits, err := r.History("", 0)
	return len(commits), err
}

// History returns the commits touching p, newest first. An empty p selects
// the whole repository and n <= 0 means no limit.
func (r *Recorder[S, F]) History(p string, n int) ([]Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// No commits yet.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	opts := &gogit.LogOptions{}
	if p != "" && p != "." {
		opts.PathFilter = func(f string) bool {
			return f == p || strings.HasPrefix(f, p+"/")
		}
	}
	iter, err := r.repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []Commit
	for n <= 0 || len(commits) < n {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

var _ store.Listener[store.Record, store.Record] = (*Recorder[store.Record, store.Record])(nil)
