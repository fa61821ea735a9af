package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/linkinlog/rxprefs/frontend"
	"gitlab.com/linkinlog/rxprefs/logger"
	"gitlab.com/linkinlog/rxprefs/prefs"
	"gitlab.com/linkinlog/rxprefs/store"
)

const shutdownTimeout = 5 * time.Second

func NewService(conf *ConfigFile, sl *slog.Logger) *Service {
	return &Service{
		conf:    conf,
		slogger: sl,
		lock:    &sync.Mutex{},
	}
}

// Service serves one preference namespace through the configured frontend,
// persisted by the configured transaction logger.
type Service struct {
	conf    *ConfigFile
	slogger *slog.Logger

	lock     *sync.Mutex
	frontend frontend.Frontend
	logger   logger.Logger
	prefs    *prefs.Preferences

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Service) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	loggerType := logger.ToLoggerType(s.conf.Logger)
	l, err := logger.New(loggerType, s.conf.Namespace)
	if err != nil {
		return err
	}

	kv := store.New(s.conf.Namespace,
		store.WithPersister(l),
		store.WithTelemetry(s.conf.Telemetry),
		store.WithLogger(s.slogger),
	)
	if err := kv.Replay(l.ReadEvents()); err != nil {
		_ = l.Close()
		return fmt.Errorf("replay %s: %w", s.conf.Namespace, err)
	}
	l.Run()

	frontendType := frontend.ToFrontendType(s.conf.Frontend)
	f := frontend.New(s.slogger, frontendType)
	if f == nil {
		_ = l.Close()
		return fmt.Errorf("invalid frontendType %q", s.conf.Frontend)
	}

	p := prefs.New(kv, prefs.WithLogger(s.slogger))
	frontendErrors := f.Start(p)

	ctx, cancel := context.WithCancel(context.Background())
	s.logger, s.frontend, s.prefs = l, f, p
	s.cancel, s.done = cancel, make(chan struct{})

	s.slogger.Info("listening",
		"s.frontend", frontendType.String(),
		"s.logger", loggerType.String(),
		"namespace", s.conf.Namespace,
		"entries", len(kv.All()),
	)

	go s.monitor(ctx, frontendErrors, l.Err(), s.done)

	return nil
}

func (s *Service) monitor(ctx context.Context, frontendErrors, loggerErrors <-chan error, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case err := <-frontendErrors:
			if err != nil {
				s.slogger.Error("s.frontend", "error", err)
			}
		case err := <-loggerErrors:
			if err != nil {
				s.slogger.Error("s.logger", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.frontend.Close(ctx); err != nil {
		s.slogger.Error("s.frontend.Close()", "error", err.Error())
	}
	s.prefs.Close()
	if err := s.logger.Close(); err != nil {
		s.slogger.Error("s.logger.Close()", "error", err.Error())
	}

	s.cancel, s.frontend, s.logger, s.prefs = nil, nil, nil, nil
}

// Reload restarts the service with conf.
func (s *Service) Reload(conf *ConfigFile) error {
	s.Stop()

	s.lock.Lock()
	s.conf = conf
	s.lock.Unlock()

	return s.Start()
}

func (s *Service) Preferences() *prefs.Preferences {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.prefs
}
