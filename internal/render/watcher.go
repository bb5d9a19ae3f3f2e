package render

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the renderer's dataset and style when their files change.
// It watches the parent directories so that editors which replace files by
// rename are picked up too.
type Watcher struct {
	renderer    *Renderer
	datasetPath string
	stylePath   string
	watcher     *fsnotify.Watcher
	logger      *zap.Logger
	done        chan struct{}
}

func NewWatcher(renderer *Renderer, datasetPath, stylePath string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		renderer: renderer,
		watcher:  fw,
		logger:   logger,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, p := range []*string{&datasetPath, &stylePath} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			fw.Close()
			return nil, err
		}
		*p = abs
		dirs[filepath.Dir(abs)] = true
	}
	w.datasetPath = datasetPath
	w.stylePath = stylePath

	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.handle(filepath.Clean(event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(name string) {
	switch name {
	case w.datasetPath:
		d, err := LoadDataset(name)
		if err != nil {
			w.logger.Warn("Error reloading dataset", zap.String("path", name), zap.Error(err))
			return
		}
		w.renderer.SetDataset(d)
	case w.stylePath:
		s, err := LoadStyle(name)
		if err != nil {
			w.logger.Warn("Error reloading style", zap.String("path", name), zap.Error(err))
			return
		}
		w.renderer.SetStyle(s)
	}
}

func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
