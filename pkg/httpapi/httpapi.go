// Package httpapi serves the register file over HTTP and, on the simulated
// backend, accepts channel injections.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/ericogr/adc-sampler/pkg/regs"
	"github.com/ericogr/adc-sampler/pkg/sampler"
	"github.com/ericogr/adc-sampler/pkg/sensor"
)

const shutdownTimeout = 5 * time.Second

// StatsSource is satisfied by *sampler.Loop.
type StatsSource interface {
	Stats() sampler.Stats
}

type Server struct {
	regs     *regs.RegisterFile
	injector sensor.Injector
	stats    StatsSource
	logger   *slog.Logger
	validate *validator.Validate
	router   *chi.Mux
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type healthResponse struct {
	Status string         `json:"status"`
	Seq    uint32         `json:"seq"`
	Stats  *sampler.Stats `json:"stats,omitempty"`
}

type setChannelRequest struct {
	Millivolts *int32 `json:"millivolts" validate:"required"`
}

type setChannelResponse struct {
	Channel   int   `json:"channel"`
	Requested int32 `json:"requested_mv"`
	Applied   int32 `json:"applied_mv"`
}

// New builds the router. PUT /channels/{ch} is only routed when s is an
// injector; stats may be nil.
func New(r *regs.RegisterFile, s sensor.Sensor, stats StatsSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		regs:     r,
		stats:    stats,
		logger:   logger.With("component", "http"),
		validate: validator.New(),
		router:   chi.NewRouter(),
	}
	if inj, ok := s.(sensor.Injector); ok {
		srv.injector = inj
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.StripSlashes)

	srv.router.Get("/health", srv.handleHealth)
	srv.router.Get("/regs", srv.handleRegs)
	if srv.injector != nil {
		srv.router.Put("/channels/{ch}", srv.handleSetChannel)
	}
	return srv
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", addr)
		errc <- hs.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Seq: s.regs.Read().Sequence}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Stats = &st
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegs(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.regs.Read())
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(chi.URLParam(r, "ch"))
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_CHANNEL", "channel must be an integer")
		return
	}
	var req setChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_BODY", "millivolts is required")
		return
	}

	applied, err := s.injector.Inject(ch, *req.Millivolts)
	if err != nil {
		var vErr *sensor.ValidationError
		if errors.As(err, &vErr) {
			sendError(w, r, http.StatusBadRequest, "INVALID_CHANNEL", vErr.Error())
			return
		}
		s.logger.Error("inject failed", "channel", ch, "error", err)
		sendError(w, r, http.StatusInternalServerError, "INJECT_FAILED", err.Error())
		return
	}
	sendJSON(w, http.StatusOK, setChannelResponse{Channel: ch, Requested: *req.Millivolts, Applied: applied})
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func sendError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	sendJSON(w, status, errorResponse{Error: errorDetail{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}
