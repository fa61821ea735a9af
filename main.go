package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/linkinlog/rxprefs/env"
	"gitlab.com/linkinlog/rxprefs/telemetry"
)

const (
	configFileName string = "rxprefs.json"
	configFileRoot string = "rxprefs"
)

func makeConfigPath() (string, error) {
	configRootPath := filepath.Join(env.ConfigPath(), configFileRoot)

	if _, err := os.Stat(configRootPath); err != nil {
		if err := os.MkdirAll(configRootPath, 0o755); err != nil {
			return "", err
		}
	}

	return filepath.Join(configRootPath, configFileName), nil
}

func main() {
	opts := slog.HandlerOptions{AddSource: true, Level: slog.LevelInfo}
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &opts))

	configPath, err := makeConfigPath()
	if err != nil {
		panic(err)
	}

	conf, err := GetOrMakeConfig(configPath)
	if err != nil {
		panic(err)
	}

	if conf.Telemetry {
		shutdown, err := telemetry.Setup(context.Background(), prometheus.DefaultRegisterer)
		if err != nil {
			panic(err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slogger.Error("telemetry shutdown", "error", err)
			}
		}()
	}

	s := NewService(conf, slogger)
	if err := s.Start(); err != nil {
		panic(err)
	}
	defer s.Stop()

	errChan, cancel := watchFile(configPath, s, slogger)
	defer cancel()

	if err := <-errChan; err != nil {
		slogger.Error("config watcher", "error", err)
	}
}
