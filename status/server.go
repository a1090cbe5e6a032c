// Package status serves the affected-entity set of a running ingest, along
// with its counters and Prometheus metrics, over HTTP.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
)

// Server is the status HTTP server.
type Server struct {
	set     *erpdk.EntitySet
	stats   func() map[string]interface{}
	metrics http.Handler
	log     erpdk.Logger

	srv *http.Server
	ln  net.Listener
}

// Option is a functional option for NewServer.
type Option func(s *Server)

// OptStats sets the function whose result is served at /stats.
func OptStats(fn func() map[string]interface{}) Option {
	return func(s *Server) {
		s.stats = fn
	}
}

// OptMetrics serves h at /metrics.
func OptMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// OptLogger sets the logger.
func OptLogger(log erpdk.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// NewServer gets a Server for set.
func NewServer(set *erpdk.EntitySet, opts ...Option) *Server {
	s := &Server{
		set: set,
		log: erpdk.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/entities", s.listEntities).Methods(http.MethodGet)
	r.HandleFunc("/entities/{id:-?[0-9]+}", s.getEntity).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Listen binds to addr without serving yet.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, once Listen has been called.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("status server is not listening")
	}
	errs := make(chan error, 1)
	go func() {
		errs <- s.srv.Serve(s.ln)
	}()
	s.log.Printf("status server listening on %s", s.ln.Addr())
	select {
	case err := <-errs:
		return errors.Wrap(err, "serving status")
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(s.srv.Shutdown(shutCtx), "shutting down status server")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	ids := s.set.IDs()
	writeJSON(w, http.StatusOK, struct {
		Count    int     `json:"count"`
		Entities []int64 `json:"entities"`
	}{Count: len(ids), Entities: ids})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid entity id"})
		return
	}
	if !s.set.Contains(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "entity not affected"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		EntityID int64 `json:"entity_id"`
		Affected bool  `json:"affected"`
	}{EntityID: id, Affected: true})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	if s.stats != nil {
		stats = s.stats()
	}
	stats["entities"] = s.set.Len()
	writeJSON(w, http.StatusOK, stats)
}
