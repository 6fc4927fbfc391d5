package config

import (
	"time"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/radovskyb/watcher"
)

const DefaultWatchInterval = 500 * time.Millisecond

type Watcher struct {
	w *watcher.Watcher
}

// Watch reparses the file at path whenever it changes and hands the new
// config to onChange. Files that fail to parse are logged and skipped.
func Watch(path string, interval time.Duration, onChange func(*Config)) (*Watcher, error) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create, watcher.Rename, watcher.Move)
	if err := w.Add(path); err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case event := <-w.Event:
				logs.Info("config file %s %s", event.Path, event.Op)
				cfg, err := Parse(path)
				if err != nil {
					logs.Warn("reload config %s fail: %v", path, err)
					continue
				}
				onChange(cfg)
			case err := <-w.Error:
				logs.Warn("config watcher error occurs: %v", err)
			case <-w.Closed:
				return
			}
		}
	}()

	go func() {
		if err := w.Start(interval); err != nil {
			logs.Warn("config watcher start error: %v", err)
		}
	}()
	w.Wait()
	return &Watcher{w: w}, nil
}

func (w *Watcher) Close() {
	w.w.Close()
}
