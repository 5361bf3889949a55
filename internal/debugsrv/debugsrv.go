// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package debugsrv is a read-only HTTP surface over the task table,
// heap occupancy, and persistent-store cycle counters — the operational
// affordance a "faithful port" needs to be observed from outside
// without speaking the binary host protocol. It never mutates VM state.
package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/microblocks-fw/vm/internal/sched"
	"github.com/microblocks-fw/vm/pkg/log"
)

// Scheduler is the subset of internal/sched's Scheduler this package
// needs, the same decoupling-by-interface idiom internal/proto and
// internal/maint already use for their own Scheduler dependency.
type Scheduler interface {
	Snapshot() []sched.TaskSnapshot
}

// Heap is the subset of internal/vm's Heap this package needs.
type Heap interface {
	FreeWords() int
	Capacity() int
	CollectionCount() int
}

// Store is the subset of internal/store's Store this package needs.
type Store interface {
	Cycle() uint32
	ActiveHalf() int
}

// Config groups this surface's read-only collaborators.
type Config struct {
	Scheduler Scheduler
	Heap      Heap
	Store     Store

	// Addr is where ListenAndServe binds, e.g. ":6060".
	Addr string
}

// Server wraps the gorilla/mux router and http.Server the same way
// cmd/cc-backend/server.go wires its own router: CompressHandler/CORS/
// CustomLoggingHandler middleware, a dedicated ReadTimeout/WriteTimeout
// http.Server.
type Server struct {
	cfg    Config
	router *mux.Router
	http   *http.Server

	tasksGauge  prometheus.Gauge
	heapGauge   prometheus.Gauge
	cyclesGauge prometheus.Gauge
}

// New builds a Server. Call ListenAndServe to start it. Each Server gets
// its own prometheus.Registry, rather than registering into the global
// default registry, so more than one Server can exist in the same
// process — notably in tests — without a duplicate-registration panic.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg, router: mux.NewRouter()}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	s.tasksGauge = factory.NewGauge(prometheus.GaugeOpts{
		Name: "microblocks_active_tasks",
		Help: "Number of non-unused rows currently in the task table.",
	})
	s.heapGauge = factory.NewGauge(prometheus.GaugeOpts{
		Name: "microblocks_heap_free_words",
		Help: "Free words remaining in the object heap.",
	})
	s.cyclesGauge = factory.NewGauge(prometheus.GaugeOpts{
		Name: "microblocks_store_cycle",
		Help: "Current persistent store compaction cycle count.",
	})

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/tasks", s.handleTasks).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/heap", s.handleHeap).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/store", s.handleStore).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.Use(handlers.CompressHandler)
	s.router.Use(handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet}),
		handlers.AllowedOrigins([]string{"*"})))

	logged := handlers.CustomLoggingHandler(log.InfoWriter, s.router, func(w io.Writer, params handlers.LogFormatterParams) {
		log.Finfof(w, "%s %s (Response: %d, Size: %d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      logged,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the listener fails or the
// server is shut down.
func (s *Server) ListenAndServe() error {
	log.Infof("[DEBUGSRV]> listening at %s", s.cfg.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight
// requests to finish.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// handleHealthz reports plain-text Healthy/Unhealthy, the same minimal
// contract as the teacher's own memorystore.HealthCheck: unhealthy only
// when the heap has run entirely out of free words, since a microcontroller
// that can no longer allocate can no longer make forward progress.
func (s *Server) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.cfg.Heap != nil && s.cfg.Heap.FreeWords() == 0 {
		rw.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(rw, "Unhealthy")
		return
	}
	io.WriteString(rw, "Healthy")
}

func (s *Server) handleTasks(rw http.ResponseWriter, r *http.Request) {
	var tasks []sched.TaskSnapshot
	if s.cfg.Scheduler != nil {
		tasks = s.cfg.Scheduler.Snapshot()
	}
	s.tasksGauge.Set(float64(len(tasks)))
	writeJSON(rw, tasks)
}

func (s *Server) handleHeap(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Heap == nil {
		writeJSON(rw, map[string]any{})
		return
	}
	free := s.cfg.Heap.FreeWords()
	s.heapGauge.Set(float64(free))
	writeJSON(rw, map[string]any{
		"capacityWords":   s.cfg.Heap.Capacity(),
		"freeWords":       free,
		"collectionCount": s.cfg.Heap.CollectionCount(),
	})
}

func (s *Server) handleStore(rw http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeJSON(rw, map[string]any{})
		return
	}
	cycle := s.cfg.Store.Cycle()
	s.cyclesGauge.Set(float64(cycle))
	writeJSON(rw, map[string]any{
		"cycle":      cycle,
		"activeHalf": s.cfg.Store.ActiveHalf(),
	})
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(v)
}
