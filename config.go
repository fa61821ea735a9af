package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

type ConfigFile struct {
	Logger    string `json:"logger" toml:"logger"`
	Frontend  string `json:"frontend" toml:"frontend"`
	Namespace string `json:"namespace" toml:"namespace"`
	Telemetry bool   `json:"telemetry" toml:"telemetry"`
}

var defaultConfig = ConfigFile{
	Logger:    "File",
	Frontend:  "REST",
	Namespace: "default",
}

func watchFile(configPath string, s *Service, sl *slog.Logger) (<-chan error, context.CancelFunc) {
	errs := make(chan error, 1)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errs <- err
		return errs, func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				conf, err := GetConfig(configPath)
				if err != nil {
					sl.Error("config reload", "error", err)
					continue
				}

				if err := s.Reload(conf); err != nil {
					errs <- err
					return
				}

				sl.Info("config change detected, reloading",
					"logger", conf.Logger, "frontend", conf.Frontend, "namespace", conf.Namespace)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				errs <- err
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	err = watcher.Add(configPath)
	if err != nil {
		errs <- err
		return errs, cancel
	}

	sl.Info("config watcher", "watching", configPath)

	return errs, cancel
}

func isTOML(configPath string) bool {
	return filepath.Ext(configPath) == ".toml"
}

func GetConfig(configPath string) (*ConfigFile, error) {
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	conf := defaultConfig
	if isTOML(configPath) {
		if _, err := toml.Decode(string(file), &conf); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if err := json.Unmarshal(file, &conf); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &conf, nil
}

func GetOrMakeConfig(configPath string) (*ConfigFile, error) {
	existingConf, err := GetConfig(configPath)
	if existingConf != nil && err == nil {
		return existingConf, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if isTOML(configPath) {
		if err := toml.NewEncoder(f).Encode(defaultConfig); err != nil {
			return nil, err
		}
	} else {
		contents, err := json.Marshal(defaultConfig)
		if err != nil {
			return nil, err
		}

		if _, err := f.Write(contents); err != nil {
			return nil, err
		}
	}

	conf := defaultConfig
	return &conf, nil
}
