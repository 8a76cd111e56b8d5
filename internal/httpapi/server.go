// Package httpapi exposes the signing bridge to host applications over
// HTTP.
//
//	GET  /health               liveness
//	POST /v1/methods/{method}  method call, JSON arguments
//	GET  /v1/events            server-sent event stream (one subscriber)
//	GET  /v1/status            coordinator state, reader status, metrics
//	POST /v1/sim/tags          tap a simulated card (simulated reader only)
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ciesign/internal/args"
	"ciesign/internal/bridge"
	"ciesign/internal/coordinator"
	cserrors "ciesign/internal/errors"
	"ciesign/internal/events"
	"ciesign/internal/metrics"
	"ciesign/internal/reader"
	"ciesign/util"
)

const (
	maxBodyBytes    = 64 << 20
	eventBuffer     = 32
	shutdownTimeout = 5 * time.Second
)

// Options wires a Server.
type Options struct {
	Bridge      *bridge.Bridge
	Coordinator *coordinator.Coordinator
	// Sim enables the /v1/sim routes when the host runs the simulated
	// reader.
	Sim     *reader.Sim
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// Server is the HTTP host adapter.
type Server struct {
	bridge  *bridge.Bridge
	coord   *coordinator.Coordinator
	sim     *reader.Sim
	metrics *metrics.Collector
	logger  *util.Logger
}

// NewServer returns a server over opts.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Server{
		bridge:  opts.Bridge,
		coord:   opts.Coordinator,
		sim:     opts.Sim,
		metrics: opts.Metrics,
		logger:  logger.Named("http"),
	}
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recovery)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK") //nolint:errcheck
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/methods/{method}", s.handleMethod).Methods(http.MethodPost)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/sim/tags", s.handleSimTag).Methods(http.MethodPost)
	v1.HandleFunc("/sim/host/{action:attach|detach}", s.handleSimHost).Methods(http.MethodPost)
	return r
}

// Serve answers requests on ln until ctx ends, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	s.logger.Info("serving on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// recovery turns a handler panic into a 500 reply.
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, cserrors.Sign(cserrors.CodeInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ── Handlers ─────────────────────────────────────────────────────────

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type resultBody struct {
	Result any `json:"result"`
}

func (s *Server) handleMethod(w http.ResponseWriter, r *http.Request) {
	method := mux.Vars(r)["method"]

	var a args.Map
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&a); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, cserrors.Sign(cserrors.CodeInvalidArgs, "body must be a JSON object"))
		return
	}

	out, err := s.bridge.Call(r.Context(), method, a)
	if err != nil {
		s.logger.Verbose("%s: %v", method, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultBody{Result: out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, cserrors.Sign(cserrors.CodeInternal, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := events.NewChanSink(eventBuffer)
	s.bridge.Subscribe(sink)
	defer s.bridge.Release(sink)
	s.logger.Verbose("event stream opened by %s", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Verbose("event stream closed by %s", r.RemoteAddr)
			return
		case <-sink.Done():
			s.logger.Verbose("event stream of %s replaced", r.RemoteAddr)
			return
		case ev := <-sink.C:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.JSON()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type statusBody struct {
	State   coordinator.State `json:"state"`
	NFC     reader.Status     `json:"nfc"`
	Metrics metrics.Snapshot  `json:"metrics"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{
		State:   s.coord.State(),
		NFC:     s.coord.Status(),
		Metrics: s.metrics.Snapshot(),
	})
}

type simTagBody struct {
	Kind string `json:"kind"` // "mock" (default) or "nfca"
	ID   string `json:"id"`   // hex tag id, optional
}

func (s *Server) handleSimTag(w http.ResponseWriter, r *http.Request) {
	if !s.simulating(w) {
		return
	}
	var body simTagBody
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, cserrors.Sign(cserrors.CodeInvalidArgs, "body must be a JSON object"))
		return
	}
	id, err := hex.DecodeString(body.ID)
	if err != nil {
		writeError(w, cserrors.Sign(cserrors.CodeInvalidArgs, "id must be hex"))
		return
	}

	var sess reader.Session
	switch body.Kind {
	case "", "mock":
		sess = reader.NewMockCard(id)
	case "nfca":
		sess = &reader.NfcATag{TagID: id}
	default:
		writeError(w, cserrors.Sign(cserrors.CodeInvalidArgs, "kind must be mock or nfca"))
		return
	}

	if !s.sim.Present(sess) {
		sess.Close() //nolint:errcheck
		writeJSON(w, http.StatusConflict, errorBody{Code: "not_armed", Message: "no request is waiting for a card"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

// handleSimHost plays the host activity going away and coming back.
// Detaching cancels any pending request.
func (s *Server) handleSimHost(w http.ResponseWriter, r *http.Request) {
	if !s.simulating(w) {
		return
	}
	if mux.Vars(r)["action"] == "detach" {
		s.coord.Detach()
	} else {
		s.coord.Attach(s.sim)
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.coord.State().String(), "nfc": s.coord.Status().String()})
}

func (s *Server) simulating(w http.ResponseWriter) bool {
	if s.sim == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "no_simulator", Message: "host is not running the simulated reader"})
		return false
	}
	return true
}

// ── Encoding ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload) //nolint:errcheck
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: cserrors.CodeOf(err), Message: err.Error()}
	var se *cserrors.SignError
	if cserrors.As(err, &se) {
		body.Message = se.Message
	}
	writeJSON(w, statusFor(err), body)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	if cserrors.CodeOf(err) == cserrors.CodeNotImplemented {
		return http.StatusNotFound
	}
	switch cserrors.KindOf(err) {
	case cserrors.KindValidation:
		return http.StatusBadRequest
	case cserrors.KindAdapter:
		return http.StatusServiceUnavailable
	case cserrors.KindConcurrency, cserrors.KindCanceled:
		return http.StatusConflict
	case cserrors.KindHardware:
		return http.StatusUnprocessableEntity
	case cserrors.KindSigner:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
