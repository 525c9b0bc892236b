// Package watcher watches an inbound directory (via fsnotify) for dropped archives and
// hands each stable file to a caller-supplied handler — the entry point
// for analyses triggered by a build simply being copied into place
// rather than pulled from a device or requested over HTTP.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ArchiveHandler runs one analysis for a newly-stable archive file.
type ArchiveHandler func(ctx context.Context, filePath string) error

// FileWatcher watches one directory for files matching pattern, waits for
// each to stop growing, then calls handler once per debounced burst of
// events for a path; a later write to the same path runs it again.
type FileWatcher struct {
	watcher    *fsnotify.Watcher
	watchDir   string
	pattern    string
	handler    ArchiveHandler
	logger     *logrus.Logger
	debounce   time.Duration
	processing map[string]bool
	stopChan   chan struct{}
}

func NewFileWatcher(watchDir, pattern string, handler ArchiveHandler, logger *logrus.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := os.MkdirAll(watchDir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher:    watcher,
		watchDir:   watchDir,
		pattern:    pattern,
		handler:    handler,
		logger:     logger,
		debounce:   2 * time.Second,
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}

	logger.WithFields(logrus.Fields{"watch_dir": watchDir, "pattern": pattern}).Info("file watcher created")

	return fw, nil
}

// Start begins the event loop. Files already present in watchDir at
// startup are left alone — re-analyzing a build means dropping it in
// again, not restarting the service.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.logger.Info("starting file watcher")
	go fw.eventLoop(ctx)
	return nil
}

func (fw *FileWatcher) eventLoop(ctx context.Context) {
	debounceTimer := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				fw.logger.Warn("watcher events channel closed")
				return
			}

			if event.Op&fsnotify.Create != fsnotify.Create && event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}

			fileName := filepath.Base(event.Name)
			if !fw.matchPattern(fileName) {
				continue
			}

			fw.logger.WithFields(logrus.Fields{"event": event.Op.String(), "file": fileName}).Debug("file event detected")

			if timer, exists := debounceTimer[event.Name]; exists {
				timer.Stop()
			}
			path := event.Name
			debounceTimer[path] = time.AfterFunc(fw.debounce, func() {
				delete(debounceTimer, path)
				fw.handleFile(ctx, path)
			})

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				fw.logger.Warn("watcher errors channel closed")
				return
			}
			fw.logger.WithError(err).Error("watcher error")
		}
	}
}

func (fw *FileWatcher) handleFile(ctx context.Context, filePath string) {
	if fw.processing[filePath] {
		return
	}
	fw.processing[filePath] = true
	defer delete(fw.processing, filePath)

	if err := fw.waitForFileReady(filePath); err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Error("file not ready")
		return
	}

	fw.logger.WithField("file", filePath).Info("processing dropped archive")

	if err := fw.handler(ctx, filePath); err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Error("failed to process archive")
		return
	}

	fw.logger.WithField("file", filePath).Info("archive processed successfully")
}

// waitForFileReady polls file size until it holds steady for one
// interval, so a still-copying archive isn't handed to the analysis
// core mid-write.
func (fw *FileWatcher) waitForFileReady(filePath string) error {
	maxAttempts := 10
	for i := 0; i < maxAttempts; i++ {
		file, err := os.OpenFile(filePath, os.O_RDONLY, 0644)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		info1, err := file.Stat()
		if err != nil {
			file.Close()
			return err
		}

		time.Sleep(500 * time.Millisecond)

		info2, err := file.Stat()
		if err != nil {
			file.Close()
			return err
		}
		file.Close()

		if info1.Size() == info2.Size() && info1.Size() > 0 {
			return nil
		}
	}

	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

func (fw *FileWatcher) matchPattern(fileName string) bool {
	if fw.pattern == "*" {
		return true
	}
	if strings.HasPrefix(fw.pattern, "*.") {
		ext := strings.TrimPrefix(fw.pattern, "*")
		return strings.HasSuffix(strings.ToLower(fileName), strings.ToLower(ext))
	}
	return fileName == fw.pattern
}

func (fw *FileWatcher) Stop() error {
	fw.logger.Info("stopping file watcher")
	close(fw.stopChan)

	if fw.watcher != nil {
		return fw.watcher.Close()
	}
	return nil
}

func (fw *FileWatcher) GetWatchDir() string {
	return fw.watchDir
}
