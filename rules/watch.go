package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDelay lets an editor finish writing before the file is read.
const reloadDelay = 50 * time.Millisecond

// Watch reloads the lexicon at path into ts whenever the file is written,
// until ctx is done. A file that fails to parse is logged and the previous
// lexicon stays in place.
func Watch(ctx context.Context, path string, ts *TextScorer, log logrus.FieldLogger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("lexicon watcher: %w", err)
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.WithError(err).Warn("close lexicon watcher")
		}
	}()

	path = filepath.Clean(path)
	// Watch the directory so editors that replace the file are still seen.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	log = log.WithField("lexicon", path)
	log.Info("lexicon watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			time.Sleep(reloadDelay)
			lex, err := LoadLexicon(path)
			if err != nil {
				log.WithError(err).Warn("lexicon reload failed; keeping previous")
				continue
			}
			ts.SetLexicon(lex)
			log.Info("lexicon reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("lexicon watcher error")
		}
	}
}
