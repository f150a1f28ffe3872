package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/bridge"
	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/engine"
	"github.com/muurk/tuyalink/internal/logging"
	"github.com/muurk/tuyalink/internal/queue"
	"github.com/muurk/tuyalink/internal/session"
)

// DeviceView is the API representation of one device.
type DeviceView struct {
	*bridge.DeviceInfo
	Profile string         `json:"profile"`
	Session string         `json:"session"`
	Retries int            `json:"retries,omitempty"`
	Pending int            `json:"pending,omitempty"`
	State   map[string]any `json:"state,omitempty"`
}

type setRequest struct {
	Value json.RawMessage `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Put("/properties/{property}", s.handleSetProperty)
			})
		})
	})
	return r
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"devices":  s.engine.Registry().Len(),
		"sessions": len(s.engine.Sessions()),
		"clients":  s.hub.count(),
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	records := s.engine.Registry().All()
	views := make([]DeviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, s.view(rec))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.engine.Registry().Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, engine.ErrUnknownDevice)
		return
	}
	writeJSON(w, http.StatusOK, s.view(rec))
}

func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.bridge.Apply(id, bridge.Command{Property: chi.URLParam(r, "property"), Value: req.Value})
	switch {
	case errors.Is(err, engine.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	case res == queue.Full:
		writeError(w, http.StatusServiceUnavailable, session.ErrQueueFull)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"result": res.String()})
	}
}

func (s *Server) view(rec discovery.DeviceRecord) DeviceView {
	v := DeviceView{
		DeviceInfo: bridge.NewDeviceInfo(rec),
		Profile:    s.bridge.Profile(rec.ID).Name,
		Session:    "closed",
	}
	if sess, ok := s.engine.Session(rec.ID); ok {
		v.Session = sess.State().String()
		v.Retries = sess.Retries()
		v.Pending = sess.QueueLen()
	}
	if state := s.bridge.Snapshot(rec.ID); len(state) > 0 {
		v.State = state
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
