package gitsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-pkgz/lgr"
)

// Syncer publishes the output directory to a git mirror: stage everything,
// commit with a timestamped message, push. Every step is best-effort; the
// caller logs returned errors and retries on the next scheduled sync.
type Syncer struct {
	repoPath    string
	remoteURL   string
	authorName  string
	authorEmail string
}

// Config holds git sync settings
type Config struct {
	RepoPath    string
	RemoteURL   string
	AuthorName  string
	AuthorEmail string
}

// New creates a syncer for the mirror repository at cfg.RepoPath
func New(cfg Config) *Syncer {
	return &Syncer{
		repoPath:    cfg.RepoPath,
		remoteURL:   cfg.RemoteURL,
		authorName:  cfg.AuthorName,
		authorEmail: cfg.AuthorEmail,
	}
}

// Sync stages all changes in the mirror, commits and pushes. A clean
// worktree is not an error: there is nothing to publish.
func (s *Syncer) Sync(ctx context.Context) error {
	repo, err := s.openOrInit()
	if err != nil {
		return fmt.Errorf("open mirror repo: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if status.IsClean() {
		lgr.Printf("[DEBUG] mirror clean, nothing to sync")
		return nil
	}

	msg := fmt.Sprintf("auto update %s", time.Now().Format("2006-01-02 15:04"))
	commit, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.authorName,
			Email: s.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	lgr.Printf("[INFO] committed %s: %s", commit.String()[:8], msg)

	if err := repo.PushContext(ctx, &git.PushOptions{}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("push: %w", err)
	}

	lgr.Printf("[INFO] mirror push completed")
	return nil
}

// openOrInit opens the mirror repository, initializing it with the
// configured remote when missing
func (s *Syncer) openOrInit() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, err
	}

	lgr.Printf("[INFO] initializing mirror repository at %s", s.repoPath)
	repo, err = git.PlainInit(s.repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}

	if s.remoteURL != "" {
		remote := &gitconfig.RemoteConfig{Name: "origin", URLs: []string{s.remoteURL}}
		if _, err := repo.CreateRemote(remote); err != nil {
			return nil, fmt.Errorf("create remote: %w", err)
		}
	}
	return repo, nil
}
