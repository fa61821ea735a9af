package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/linkinlog/rxprefs/env"
	"gitlab.com/linkinlog/rxprefs/featureflags"
	"gitlab.com/linkinlog/rxprefs/prefs"
	"gitlab.com/linkinlog/rxprefs/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func NewRESTServer(l *slog.Logger) *RESTServer {
	return &RESTServer{log: l}
}

type RESTServer struct {
	log    *slog.Logger
	srv    *http.Server
	cancel context.CancelFunc
}

// entry is the JSON shape of one preference.
type entry struct {
	Key   string `json:"key,omitempty"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

func (s *RESTServer) Start(p *prefs.Preferences) <-chan error {
	errs := make(chan error, 1)

	s.server(p).Addr = env.FrontendPort()

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("can't hear shit! %w", err)
		}
	}()

	return errs
}

// server builds the http.Server for p. Every request context derives from
// one base context that Close cancels, so open watches end on shutdown.
func (s *RESTServer) server(p *prefs.Preferences) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.srv = &http.Server{
		Handler:     s.Handler(p),
		BaseContext: func(net.Listener) context.Context { return base },
	}
	return s.srv
}

func (s *RESTServer) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.cancel()
	return s.srv.Shutdown(ctx)
}

func (s *RESTServer) Handler(p *prefs.Preferences) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /prefs/{key}", get(p))
	mux.HandleFunc("PUT /prefs/{key}", s.put(p))
	mux.HandleFunc("DELETE /prefs/{key}", s.del(p))
	mux.HandleFunc("GET /watch/{key}", s.watch(p))
	mux.Handle("GET /metrics", promhttp.Handler())

	return traced(mux)
}

// traced instruments requests that carry the tracing feature flag.
func traced(next http.Handler) http.Handler {
	instrumented := otelhttp.NewHandler(next, env.ServiceName())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if featureflags.Enabled("tracing", r) {
			instrumented.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func get(p *prefs.Preferences) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")

		if key == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid key"))
			return
		}

		val, ok := p.Store().Get(key)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("no such key"))
			return
		}

		if kind := r.URL.Query().Get("kind"); kind != "" && kind != val.Kind().String() {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(fmt.Sprintf("%q holds %s", key, val.Kind())))
			return
		}

		writeJSON(w, entry{Key: key, Kind: val.Kind().String(), Value: val.JSON()})
	}
}

func (s *RESTServer) put(p *prefs.Preferences) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")

		if key == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid key"))
			return
		}

		var body entry
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid body"))
			return
		}

		val, err := decodeEntry(body.Kind, body.Value)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(err.Error()))
			return
		}

		err = <-p.Commit(r.Context(), func(e *prefs.Editor) {
			e.Set(key, val.Interface())
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (s *RESTServer) del(p *prefs.Preferences) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")

		if key == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid key"))
			return
		}

		err := <-p.Commit(r.Context(), func(e *prefs.Editor) {
			e.Remove(key)
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// watch streams the key as server-sent events until the client goes away.
func (s *RESTServer) watch(p *prefs.Preferences) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")

		kind, err := store.ParseKind(r.URL.Query().Get("kind"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(err.Error()))
			return
		}

		def, err := store.Zero(kind)
		if raw := r.URL.Query().Get("default"); raw != "" && err == nil {
			def, err = store.ParseJSON(kind, []byte(raw))
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(err.Error()))
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("streaming unsupported"))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		values, errs := p.ObserveValue(r.Context(), key, def)
		for v := range values {
			data, err := json.Marshal(entry{Key: key, Kind: v.Kind().String(), Value: v.JSON()})
			if err != nil {
				s.log.Error("watch", "key", key, "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}

		if err := <-errs; err != nil {
			_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", err)
			flusher.Flush()
		}
	}
}

func decodeEntry(kind string, raw any) (store.Value, error) {
	k, err := store.ParseKind(kind)
	if err != nil {
		return store.Value{}, err
	}
	return store.FromJSON(k, raw)
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnsupportedType), errors.Is(err, store.ErrTypeMismatch):
		w.WriteHeader(http.StatusBadRequest)
	default:
		s.log.Error("commit", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
	_, _ = w.Write([]byte(err.Error()))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
