package logger

import (
	"fmt"
	"path/filepath"

	"gitlab.com/linkinlog/rxprefs/env"
	"gitlab.com/linkinlog/rxprefs/store"
)

// Logger persists the events of one preference namespace.
type Logger interface {
	store.Persister

	Close() error

	Err() <-chan error

	ReadEvents() (<-chan store.Event, <-chan error)

	Run()
}

func New(l LoggerType, namespace string) (Logger, error) {
	switch l {
	case File:
		return NewFileTransactionLogger(filepath.Join(env.ConfigPath(), namespace+".log"))
	case PSQL:
		params := PostgresDBParams{
			dbName:    env.DBName(),
			host:      env.DBHost(),
			user:      env.DBUser(),
			password:  env.DBPass(),
			namespace: namespace,
		}

		return NewPostgresTransactionLogger(params)
	case Bolt:
		return NewBoltTransactionLogger(filepath.Join(env.ConfigPath(), "prefs.db"), namespace)
	}
	return nil, fmt.Errorf("invalid loggerType %v", l)
}

func ToLoggerType(s string) LoggerType {
	switch s {
	case "File":
		return File
	case "PSQL":
		return PSQL
	case "Bolt":
		return Bolt
	}
	return 0
}

type LoggerType int

const (
	_ LoggerType = iota
	File
	PSQL
	Bolt
)

func (l LoggerType) String() string {
	if l < File || l > Bolt {
		return "unknown"
	}
	return []string{"File", "PSQL", "Bolt"}[l-1]
}
