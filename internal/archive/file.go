package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// FileArchiver appends one JSON line per snapshot to a local file.
type FileArchiver struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewFileArchiver creates the parent directory of path if needed.
func NewFileArchiver(path string, logger *zap.Logger) (*FileArchiver, error) {
	if path == "" {
		return nil, fmt.Errorf("file archive: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FileArchiver{path: path, logger: logger}, nil
}

// Archive appends s and fsyncs the file.
func (a *FileArchiver) Archive(ctx context.Context, s *Snapshot) error {
	if s == nil || s.Market == nil {
		return fmt.Errorf("file archive: empty snapshot")
	}
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		ArchiveFailuresTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		ArchiveFailuresTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("write archive file: %w", err)
	}
	if err := f.Sync(); err != nil {
		ArchiveFailuresTotal.WithLabelValues("file").Inc()
		return fmt.Errorf("sync archive file: %w", err)
	}

	ArchivedMarketsTotal.WithLabelValues("file").Inc()
	a.logger.Info("market-archived",
		zap.String("market-id", s.Market.ID),
		zap.String("path", a.path))
	return nil
}

var _ Archiver = (*FileArchiver)(nil)
