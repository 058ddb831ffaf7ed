// Package service ingests PDFs dropped into a watched directory.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docqa/config"
	"docqa/types"
)

// Ingester is the registry operation the watcher feeds.
type Ingester interface {
	Ingest(ctx context.Context, data []byte, filename string) (types.DocumentMetadata, error)
}

type outcome int

const (
	archived outcome = iota
	rejected
)

// Service watches cfg.SourceDir. A file is ingested once it has seen no
// write for cfg.Settle, then moved to the archive or, on failure, the bad
// directory.
type Service struct {
	cfg    config.WatchConfig
	docs   Ingester
	logger *slog.Logger

	mu         sync.Mutex
	lastSeen   map[string]time.Time
	processing map[string]bool
}

func New(cfg config.WatchConfig, docs Ingester, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Settle <= 0 {
		cfg.Settle = time.Second
	}
	return &Service{
		cfg:        cfg,
		docs:       docs,
		logger:     logger.With("component", "watcher", "dir", cfg.SourceDir),
		lastSeen:   make(map[string]time.Time),
		processing: make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled. Files already present in the source
// directory are picked up at start.
func (s *Service) Run(ctx context.Context) error {
	if err := createDirectories(s.cfg.SourceDir, s.cfg.ArchiveDir, s.cfg.BadDir); err != nil {
		return types.Configf("watch directories: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.cfg.SourceDir); err != nil {
		return fmt.Errorf("watch %s: %w", s.cfg.SourceDir, err)
	}

	if err := s.scan(); err != nil {
		s.logger.Warn("initial scan failed", "err", err)
	}

	fileChan := make(chan string, 10)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.processFiles(ctx, fileChan)
	}()
	defer func() {
		close(fileChan)
		wg.Wait()
		s.logger.Info("watcher stopped")
	}()

	ticker := time.NewTicker(max(s.cfg.Settle/4, 50*time.Millisecond))
	defer ticker.Stop()

	s.logger.Info("watching for documents", "settle", s.cfg.Settle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "err", err)
		case now := <-ticker.C:
			for _, path := range s.ready(now) {
				select {
				case fileChan <- path:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (s *Service) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if isCandidate(ev.Name) {
			s.touch(ev.Name, time.Now())
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		s.forget(ev.Name)
	}
}

func (s *Service) scan() error {
	entries, err := os.ReadDir(s.cfg.SourceDir)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, e := range entries {
		path := filepath.Join(s.cfg.SourceDir, e.Name())
		if !e.IsDir() && isCandidate(path) {
			s.touch(path, now)
		}
	}
	return nil
}

func (s *Service) touch(path string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing[path] {
		return
	}
	if _, seen := s.lastSeen[path]; !seen {
		s.logger.Debug("new file detected", "file", filepath.Base(path))
	}
	s.lastSeen[path] = at
}

func (s *Service) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.processing[path] {
		delete(s.lastSeen, path)
	}
}

// ready returns the files that settled by now and marks them in flight.
func (s *Service) ready(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for path, last := range s.lastSeen {
		if s.processing[path] || now.Sub(last) < s.cfg.Settle {
			continue
		}
		s.processing[path] = true
		out = append(out, path)
	}
	return out
}

func (s *Service) processFiles(ctx context.Context, fileChan <-chan string) {
	for path := range fileChan {
		if ctx.Err() != nil {
			// leave it in place for the next run
			s.done(path)
			continue
		}
		s.processFile(ctx, path)
	}
}

func (s *Service) processFile(ctx context.Context, path string) {
	defer s.done(path)
	logger := s.logger.With("file", filepath.Base(path))

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		logger.Error("reading file", "err", err)
		s.move(path, rejected)
		return
	}

	meta, err := s.docs.Ingest(ctx, data, filepath.Base(path))
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("ingest interrupted", "err", err)
			return
		}
		logger.Error("ingest failed", "err", err)
		s.move(path, rejected)
		return
	}
	logger.Info("document ingested from watch directory", "document_id", meta.DocumentID)
	s.move(path, archived)
}

func (s *Service) done(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processing, path)
	delete(s.lastSeen, path)
}

// move relocates path into a dated folder under the archive or bad
// directory, suffixing the name when it is already taken.
func (s *Service) move(path string, o outcome) {
	root := s.cfg.ArchiveDir
	if o == rejected {
		root = s.cfg.BadDir
	}
	destDir := filepath.Join(root, time.Now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		s.logger.Error("creating directory", "dir", destDir, "err", err)
		return
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	dest := filepath.Join(destDir, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
			break
		}
		dest = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}

	if err := os.Rename(path, dest); err != nil {
		s.logger.Error("moving file", "dest", dest, "err", err)
		return
	}
	s.logger.Debug("file moved", "dest", dest)
}

func isCandidate(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && strings.EqualFold(filepath.Ext(base), ".pdf")
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
