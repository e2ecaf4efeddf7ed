// Package api serves the motion engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/calvinmclean/autostroke"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/invopop/jsonschema"
)

const (
	MaxConfigBodySize = 1024
	MaxPauseBodySize  = 4096

	shutdownTimeout = 5 * time.Second
)

// Engine is the motion engine behind the API
type Engine interface {
	Config() autostroke.Config
	Replace(autostroke.Config) (autostroke.Config, error)
	Pause(autostroke.PauseRequest) (autostroke.Config, error)
	State() autostroke.State
	ClearFault()
}

// API routes requests to an Engine. Until one is attached every engine route answers 503.
type API struct {
	mu     sync.RWMutex
	engine Engine

	router chi.Router
	logger *slog.Logger
}

func New(engine Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}

	a := &API{
		engine: engine,
		logger: logger.With("component", "api"),
	}
	a.router = a.routes()
	return a
}

// Attach sets the engine served by the API
func (a *API) Attach(engine Engine) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine = engine
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is done, then shuts down gracefully
func (a *API) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("error running HTTP server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	return nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		a.requestLogger,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}),
	)

	r.Get("/config/schema", a.getSchema)

	r.Group(func(r chi.Router) {
		r.Use(a.requireEngine)

		r.Get("/config", a.getConfig)
		r.Post("/config", a.postConfig)
		r.Post("/paused", a.postPaused)
		r.Get("/state", a.getState)
		r.Post("/fault/clear", a.postClearFault)
	})

	return r
}

type engineKey struct{}

func (a *API) requireEngine(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		engine := a.engine
		a.mu.RUnlock()

		if engine == nil {
			_ = render.Render(w, r, ErrUnavailable)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), engineKey{}, engine)))
	})
}

func engineFrom(r *http.Request) Engine {
	return r.Context().Value(engineKey{}).(Engine)
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		a.logger.Debug("handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

func (a *API) getConfig(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, engineFrom(r).Config())
}

func (a *API) postConfig(w http.ResponseWriter, r *http.Request) {
	body, errResp := readBody(w, r, MaxConfigBodySize)
	if errResp != nil {
		_ = render.Render(w, r, errResp)
		return
	}

	cfg, err := autostroke.ParseConfig(body)
	if err != nil {
		_ = render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	cfg, err = engineFrom(r).Replace(cfg)
	if err != nil {
		_ = render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	a.logger.Info("config replaced", "bpm", cfg.BPM, "wave_func", cfg.WaveFunc, "paused", cfg.Paused)
	render.JSON(w, r, cfg)
}

func (a *API) postPaused(w http.ResponseWriter, r *http.Request) {
	body, errResp := readBody(w, r, MaxPauseBodySize)
	if errResp != nil {
		_ = render.Render(w, r, errResp)
		return
	}

	var req autostroke.PauseRequest
	err := json.Unmarshal(body, &req)
	if err != nil {
		_ = render.Render(w, r, ErrInvalidRequest(fmt.Errorf("invalid pause request: %w", err)))
		return
	}

	cfg, err := engineFrom(r).Pause(req)
	if err != nil {
		_ = render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	render.JSON(w, r, cfg)
}

func (a *API) getState(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, engineFrom(r).State())
}

func (a *API) postClearFault(w http.ResponseWriter, r *http.Request) {
	engineFrom(r).ClearFault()
	a.logger.Info("fault cleared")
	render.NoContent(w, r)
}

func (a *API) getSchema(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ConfigSchema())
}

// ConfigSchema describes the Config accepted by POST /config
func ConfigSchema() *jsonschema.Schema {
	waveFuncType := reflect.TypeOf(autostroke.WaveFunc(0))
	waveFuncs := make([]any, 0, len(autostroke.WaveFuncs))
	for _, wf := range autostroke.WaveFuncs {
		waveFuncs = append(waveFuncs, wf.String())
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t != waveFuncType {
				return nil
			}
			return &jsonschema.Schema{
				Type:        "string",
				Enum:        waveFuncs,
				Description: "Waveform generating each cycle",
			}
		},
	}

	return reflector.Reflect(&autostroke.Config{})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, *ErrResponse) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return nil, ErrTooLarge(limit)
	case err != nil:
		return nil, ErrInvalidRequest(fmt.Errorf("error reading body: %w", err))
	}
	return body, nil
}
