package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"socialhub/internal/constants"
	"socialhub/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ConfigWatcher watches the configuration file and reloads it on change
type ConfigWatcher struct {
	configPath string
	logger     *logrus.Logger
	debounce   time.Duration
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
	ready      chan struct{}
}

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		logger:     logger,
		debounce:   time.Duration(constants.DefaultConfigWatchDebounceMs) * time.Millisecond,
		callbacks:  make([]func(*models.Config), 0),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the file system watch is in place
func (cw *ConfigWatcher) Ready() <-chan struct{} {
	return cw.ready
}

// Start loads the configuration and blocks watching it until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(cw.configPath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")
	close(cw.ready)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cw.logger.WithField("op", event.Op.String()).Debug("Configuration file changed")
			pending = time.After(cw.debounce)

		case <-pending:
			pending = nil
			cw.reloadConfig()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.WithError(err).Error("Configuration watcher error")
		}
	}
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// LogLevelUpdater returns a callback that applies the reloaded log level
func LogLevelUpdater(logger *logrus.Logger) func(*models.Config) {
	return func(c *models.Config) {
		level, err := logrus.ParseLevel(c.LogLevel)
		if err != nil {
			return
		}
		if logger.GetLevel() != level {
			logger.SetLevel(level)
			logger.WithField("level", level.String()).Info("Log level updated")
		}
	}
}

func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(newConfig)
		}(callback)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

// logConfigChanges logs notable configuration changes. Only the log level
// is applied live; other changes need a restart.
func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if old.Tokens.RefreshIntervalHours != new.Tokens.RefreshIntervalHours {
		cw.logger.WithFields(logrus.Fields{
			"old": old.Tokens.RefreshIntervalHours,
			"new": new.Tokens.RefreshIntervalHours,
		}).Warn("Refresh interval changed; restart to apply")
	}

	if old.Tokens.StoreDSN != new.Tokens.StoreDSN {
		cw.logger.Warn("Token store DSN changed; restart to apply")
	}
}
