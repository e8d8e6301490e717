package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// ModelInfo describes a served model.
type ModelInfo struct {
	Name       string     `json:"name"`
	Version    string     `json:"version"`
	Convention Convention `json:"convention"`
	Schema     []string   `json:"schema"`
}

// ScoreRequest is the body of POST /score.
type ScoreRequest struct {
	Rows      [][]float64 `json:"rows"`
	RequestID string      `json:"request_id,omitempty"`
}

// ScoreResponse carries raw scores and their verdicts.
type ScoreResponse struct {
	Scores    []float64 `json:"scores"`
	Verdicts  []Verdict `json:"verdicts"`
	RequestID string    `json:"request_id,omitempty"`
	Latency   float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelServer exposes a model over HTTP
type ModelServer struct {
	model   *Model
	timeout time.Duration
	server  *http.Server
}

func NewModelServer(model *Model, port int, timeout time.Duration) *ModelServer {
	ms := &ModelServer{model: model, timeout: timeout}

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      ms.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return ms
}

func (ms *ModelServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/score", ms.handleScore).Methods(http.MethodPost)
	r.HandleFunc("/health", ms.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", ms.handleModelInfo).Methods(http.MethodGet)
	return r
}

func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Str("model", ms.model.Name).Msg("starting model server")
	return ms.server.ListenAndServe()
}

func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handleScore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Rows) == 0 {
		http.Error(w, "rows cannot be empty", http.StatusBadRequest)
		return
	}
	for i, row := range req.Rows {
		if len(row) != len(ms.model.Schema) {
			http.Error(w, fmt.Sprintf("row %d has %d features, model expects %d", i, len(row), len(ms.model.Schema)),
				http.StatusUnprocessableEntity)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), ms.timeout)
	defer cancel()

	scores, err := ScoreAll(ctx, ms.model.Scorer, req.Rows)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("scoring failed")
		http.Error(w, fmt.Sprintf("scoring failed: %v", err), http.StatusInternalServerError)
		return
	}

	resp := ScoreResponse{
		Scores:    scores,
		Verdicts:  make([]Verdict, len(scores)),
		RequestID: req.RequestID,
		Timestamp: time.Now(),
	}
	for i, s := range scores {
		resp.Verdicts[i] = Label(s, ms.model.Convention)
	}
	resp.Latency = float64(time.Since(start).Microseconds()) / 1000

	writeJSON(w, http.StatusOK, resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := ms.model.Scorer != nil
	if c, ok := ms.model.Scorer.(*Classifier); ok {
		healthy = c.Available()
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": healthy,
		"model":   ms.model.Name,
	})
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelInfo{
		Name:       ms.model.Name,
		Version:    ms.model.Version,
		Convention: ms.model.Convention,
		Schema:     ms.model.Schema,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
