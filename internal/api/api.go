// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package api exposes the main view of waybar-humidity over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/klauspost/compress/gzhttp"

	"github.com/wneessen/waybar-humidity/internal/humidity"
	"github.com/wneessen/waybar-humidity/internal/logger"
	"github.com/wneessen/waybar-humidity/internal/refresh"
	"github.com/wneessen/waybar-humidity/internal/search"
	"github.com/wneessen/waybar-humidity/internal/ventilation"
	"github.com/wneessen/waybar-humidity/internal/viewmodel"
	"github.com/wneessen/waybar-humidity/internal/weather"
)

const (
	maxBodySize     = 1 << 16
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

// Server serves the main view state and accepts the user intents.
type Server struct {
	model    *viewmodel.Model
	messages viewmodel.Messages
	logger   *logger.Logger
	validate *validator.Validate
	origins  []string
}

func New(model *viewmodel.Model, messages viewmodel.Messages, log *logger.Logger, allowedOrigins []string) *Server {
	return &Server{
		model:    model,
		messages: messages,
		logger:   log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		origins:  allowedOrigins,
	}
}

// Handler returns the complete HTTP handler including CORS, panic recovery and compression.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.events)
		r.Group(func(r chi.Router) {
			r.Use(compress)
			r.Get("/state", s.state)
			r.Post("/refresh", s.refresh)
			r.Post("/search", s.search)
			r.Put("/location", s.selectPlace)
			r.Put("/unit", s.setUnit)
			r.Put("/home-hours", s.setHomeHours)
			r.Put("/indoor", s.setIndoor)
			r.Delete("/indoor", s.clearIndoor)
			r.Delete("/notice", s.dismissNotice)
		})
	})

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError)),
	)(h)
	return h
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	return nil
}

type searchRequest struct {
	Query string `json:"query" validate:"max=200"`
}

type placeRequest struct {
	ID       string   `json:"id"`
	Title    string   `json:"title" validate:"required"`
	Subtitle string   `json:"subtitle"`
	Lat      *float64 `json:"lat" validate:"omitnil,gte=-90,lte=90"`
	Lon      *float64 `json:"lon" validate:"omitnil,gte=-180,lte=180"`
}

type unitRequest struct {
	Unit string `json:"unit" validate:"required"`
}

type homeHoursRequest struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type indoorRequest struct {
	Temperature      *float64 `json:"temperature" validate:"required"`
	RelativeHumidity *float64 `json:"relative_humidity" validate:"required,gte=0,lte=100"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.model.State())
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.model.Refresh(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.model.State())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.model.Search(req.Query)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) selectPlace(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !s.decode(w, r, &req) {
		return
	}
	place := search.Place{ID: req.ID, Title: req.Title, Subtitle: req.Subtitle}
	if req.Lat != nil && req.Lon != nil {
		place.Coordinate = &weather.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
	}
	if err := s.model.SelectPlace(r.Context(), place); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.model.State())
}

func (s *Server) setUnit(w http.ResponseWriter, r *http.Request) {
	var req unitRequest
	if !s.decode(w, r, &req) {
		return
	}
	unit, err := humidity.ParseUnit(req.Unit)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err = s.model.SetUnit(r.Context(), unit); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.model.State())
}

func (s *Server) setHomeHours(w http.ResponseWriter, r *http.Request) {
	var req homeHoursRequest
	if !s.decode(w, r, &req) {
		return
	}
	start, err := ventilation.ParseTimeOfDay(req.Start)
	if err != nil {
		s.writeError(w, err)
		return
	}
	end, err := ventilation.ParseTimeOfDay(req.End)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err = s.model.SetHomeHours(r.Context(), ventilation.HomeHours{Start: start, End: end}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.model.State())
}

func (s *Server) setIndoor(w http.ResponseWriter, r *http.Request) {
	var req indoorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.model.SetIndoor(*req.Temperature, *req.RelativeHumidity); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.model.State())
}

func (s *Server) clearIndoor(w http.ResponseWriter, _ *http.Request) {
	s.model.ClearIndoor()
	s.writeJSON(w, http.StatusOK, s.model.State())
}

func (s *Server) dismissNotice(w http.ResponseWriter, _ *http.Request) {
	s.model.DismissNotice()
	w.WriteHeader(http.StatusNoContent)
}

// events streams every state change as server-sent event until the client goes away.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}

	states := make(chan viewmodel.State, 8)
	unsub := s.model.Subscribe(func(state viewmodel.State) {
		select {
		case states <- state:
		default:
			s.logger.Debug("dropping state event for slow client")
		}
	})
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case state := <-states:
			data, err := json.Marshal(state)
			if err != nil {
				s.logger.Error("failed to encode state event", logger.Err(err))
				continue
			}
			if _, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %s", err)})
		return false
	}
	if err := s.validate.Struct(target); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var cooldownErr *refresh.CooldownActiveError
	var rateErr *refresh.RateLimitedError
	switch {
	case errors.As(err, &cooldownErr):
		w.Header().Set("Retry-After", retryAfter(cooldownErr.Remaining))
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", retryAfter(rateErr.RetryAfter))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logger.Err(err))
	}
	s.writeJSON(w, status, errorResponse{Error: s.messages.Notice(err)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", logger.Err(err))
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("handled request", slog.String("method", r.Method), slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()), slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

func statusFor(err error) int {
	var cooldownErr *refresh.CooldownActiveError
	var rateErr *refresh.RateLimitedError
	var upstreamErr *refresh.UpstreamError
	switch {
	case errors.As(err, &cooldownErr), errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	case errors.Is(err, refresh.ErrNoLocation):
		return http.StatusConflict
	case errors.Is(err, search.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, search.ErrUnresolvable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, humidity.ErrInvalidInput), errors.Is(err, ventilation.ErrInvalidHomeHours):
		return http.StatusBadRequest
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func retryAfter(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
