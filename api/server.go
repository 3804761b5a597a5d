package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/matt-g-everett/frameanim/imagecache"
	"github.com/matt-g-everett/frameanim/stream"
)

// Player is the part of a stream.Controller the API drives.
type Player interface {
	Start()
	Stop()
	Status() stream.Status
	Cache() *imagecache.Cache
}

// Api serves playback status and control over HTTP.
type Api struct {
	player Player
	logger *slog.Logger
	server *http.Server
}

// NewApi creates an Api for player listening on addr.
func NewApi(player Player, addr string, logger *slog.Logger) *Api {
	a := new(Api)
	a.player = player
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a
}

// Handler routes the API endpoints.
func (a *Api) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("POST /start", a.handleStart)
	mux.HandleFunc("POST /stop", a.handleStop)
	mux.HandleFunc("POST /cache/purge", a.handlePurge)
	return mux
}

// Serve listens until Shutdown is called.
func (a *Api) Serve() error {
	a.logger.Info("api listening", "addr", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for requests in flight until ctx ends.
func (a *Api) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *Api) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeStatus(w)
}

func (a *Api) handleStart(w http.ResponseWriter, r *http.Request) {
	a.player.Start()
	a.logger.Debug("start requested", "remote", r.RemoteAddr)
	a.writeStatus(w)
}

func (a *Api) handleStop(w http.ResponseWriter, r *http.Request) {
	a.player.Stop()
	a.logger.Debug("stop requested", "remote", r.RemoteAddr)
	a.writeStatus(w)
}

func (a *Api) handlePurge(w http.ResponseWriter, r *http.Request) {
	cache := a.player.Cache()
	if cache == nil {
		http.Error(w, "no image cache", http.StatusNotFound)
		return
	}
	cache.Purge()
	a.writeJSON(w, cache.Stats())
}

func (a *Api) writeStatus(w http.ResponseWriter) {
	a.writeJSON(w, a.player.Status())
}

func (a *Api) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("response write failed", "error", err)
	}
}
