package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rubiojr/pulse/pkg/log"
)

// settleDelay gives editors time to finish writing before the file is read.
var settleDelay = 100 * time.Millisecond

// Watch reloads configPath whenever it changes and hands the new configuration
// to onReload. Files that fail to load are logged and skipped. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, configPath string, onReload func(*Config)) error {
	logger := log.ForService("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config file watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warnf("Failed to close config file watcher: %v", err)
		}
	}()

	if err := watcher.Add(configPath); err != nil {
		return fmt.Errorf("watching config file %s: %w", configPath, err)
	}
	logger.Infof("Watching config file for changes: %s", configPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often replace the file atomically, which shows up as rename or remove.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			logger.Debugf("Config file changed: %s (event: %s)", event.Name, event.Op.String())

			if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(2 * settleDelay)
				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					logger.Warnf("Config file was removed and not replaced, skipping reload")
					continue
				}
				if err := watcher.Add(configPath); err != nil {
					logger.Warnf("Failed to re-add config file to watcher: %v", err)
				}
			} else {
				time.Sleep(settleDelay)
			}

			cfg, err := LoadConfig(configPath)
			if err != nil {
				logger.Errorf("Failed to reload configuration: %v", err)
				continue
			}
			onReload(cfg)
			logger.Infof("Configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("Config file watcher error: %v", err)
		}
	}
}
