// Package status serves a read-only JSON view of a running pipeline.
package status

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"metapipe/internal/engine"
)

// Board holds the latest summary per stage. The sequencer publishes after
// each stage transition; HTTP handlers only read.
type Board struct {
	mu      sync.RWMutex
	runID   string
	plan    string
	order   []string
	byStage map[string]engine.StageSummary
}

func NewBoard(runID, plan string) *Board {
	return &Board{
		runID:   runID,
		plan:    plan,
		byStage: make(map[string]engine.StageSummary),
	}
}

// Publish records the summary for a stage, keeping first-publication order.
func (b *Board) Publish(sum engine.StageSummary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byStage[sum.Stage]; !ok {
		b.order = append(b.order, sum.Stage)
	}
	b.byStage[sum.Stage] = sum
}

// Snapshot returns the published summaries in publication order.
func (b *Board) Snapshot() []engine.StageSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]engine.StageSummary, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.byStage[name])
	}
	return out
}

func (b *Board) stage(name string) (engine.StageSummary, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sum, ok := b.byStage[name]
	return sum, ok
}

type runView struct {
	RunID  string                `json:"run_id"`
	Plan   string                `json:"plan"`
	Stages []engine.StageSummary `json:"stages"`
}

// Router builds the HTTP API:
//
//	GET /api/run             run identity plus all stage summaries
//	GET /api/stages          stage summaries in execution order
//	GET /api/stages/{name}   one stage, 404 before it has reported
func Router(b *Board) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/run", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, runView{RunID: b.runID, Plan: b.plan, Stages: b.Snapshot()})
	})
	r.Get("/api/stages", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, b.Snapshot())
	})
	r.Get("/api/stages/{name}", func(w http.ResponseWriter, req *http.Request) {
		sum, ok := b.stage(chi.URLParam(req, "name"))
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown stage"})
			return
		}
		writeJSON(w, http.StatusOK, sum)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
