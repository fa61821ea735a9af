package frontend

import (
	"context"
	"log/slog"

	"gitlab.com/linkinlog/rxprefs/frontend/grpc"
	"gitlab.com/linkinlog/rxprefs/prefs"
)

type Frontend interface {
	Start(*prefs.Preferences) <-chan error
	Close(context.Context) error
}

func New(l *slog.Logger, f FrontendType) Frontend {
	switch f {
	case GRPC:
		return grpc.NewGRPCServer(l)
	case REST:
		return NewRESTServer(l)
	}

	return nil
}

func ToFrontendType(s string) FrontendType {
	switch s {
	case "GRPC":
		return GRPC
	case "REST":
		return REST
	}
	return 0
}

type FrontendType int

const (
	_ FrontendType = iota
	GRPC
	REST
)

func (f FrontendType) String() string {
	if f < GRPC || f > REST {
		return "unknown"
	}
	return []string{"GRPC", "REST"}[f-1]
}
