// Package dashboard serves the fraud analytics of a labelled dataset as a
// JSON API, scores uploaded CSV files and streams detection run summaries to
// websocket clients.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fraud-detector/internal/analysis"
	"fraud-detector/internal/detect"
	"fraud-detector/internal/features"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/transaction"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// maxUpload bounds the CSV accepted by the predict endpoint.
const maxUpload = 64 << 20

// Detector scores tables. *detect.Service implements it.
type Detector interface {
	Detect(ctx context.Context, table *transaction.Table, model string) (*detect.Result, error)
	Models() []string
}

// RunLister reads stored detection runs. *storage.Store implements it.
type RunLister interface {
	GetRuns(model string, start, end time.Time) ([]storage.RunRecord, error)
}

// Event is what websocket clients receive.
type Event struct {
	Type     string             `json:"type"`
	Time     time.Time          `json:"time"`
	Overview *analysis.Overview `json:"overview,omitempty"`
	Models   []string           `json:"models,omitempty"`
	Run      *storage.RunRecord `json:"run,omitempty"`
}

const (
	EventHello = "hello"
	EventRun   = "run"
)

type Dashboard struct {
	table        *transaction.Table
	records      []transaction.Record
	overview     analysis.Overview
	detector     Detector
	runs         RunLister
	defaultModel string

	addr             string
	server           *http.Server
	upgrader         websocket.Upgrader
	clients          map[*websocket.Conn]bool
	clientsMu        sync.RWMutex
	broadcastChannel chan Event
	stopChannel      chan struct{}
	isRunning        bool
	mu               sync.Mutex
}

// NewDashboard serves analytics over table. detector and runs may be nil, in
// which case the predict and runs endpoints answer 503.
func NewDashboard(table *transaction.Table, detector Detector, runs RunLister, defaultModel string, port int) (*Dashboard, error) {
	batch, err := table.Batch()
	if err != nil {
		return nil, fmt.Errorf("dashboard dataset: %w", err)
	}

	d := &Dashboard{
		table:            table,
		records:          batch.Records,
		overview:         analysis.Summarize(batch.Records),
		detector:         detector,
		runs:             runs,
		defaultModel:     defaultModel,
		upgrader:         websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:          make(map[*websocket.Conn]bool),
		broadcastChannel: make(chan Event, 100),
		addr:             fmt.Sprintf(":%d", port),
	}

	return d, nil
}

// newServer builds a fresh server, since an http.Server cannot be reused
// after Shutdown.
func (d *Dashboard) newServer() *http.Server {
	return &http.Server{
		Addr:         d.addr,
		Handler:      d.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}

func (d *Dashboard) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", d.handleHealth).Methods("GET")
	r.HandleFunc("/ws", d.handleWebSocket).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/overview", d.handleOverview).Methods("GET")
	api.HandleFunc("/fraud/state", d.handleFraudByState).Methods("GET")
	api.HandleFunc("/fraud/city", d.handleFraudByCity).Methods("GET")
	api.HandleFunc("/fraud/city/full", d.handleFullFraudCities).Methods("GET")
	api.HandleFunc("/fraud/category", d.handleFraudByCategory).Methods("GET")
	api.HandleFunc("/customers", d.handleCustomers).Methods("GET")
	api.HandleFunc("/customers/{id:[0-9]+}", d.handleCustomer).Methods("GET")
	api.HandleFunc("/behavior", d.handleBehavior).Methods("GET")
	api.HandleFunc("/frequency", d.handleFrequency).Methods("GET")
	api.HandleFunc("/datetime/{unit}", d.handleDateTime).Methods("GET")
	api.HandleFunc("/models", d.handleModels).Methods("GET")
	api.HandleFunc("/predict", d.handlePredict).Methods("POST")
	api.HandleFunc("/runs", d.handleRuns).Methods("GET")
	return r
}

// Start runs the broadcaster and the HTTP server. A stopped dashboard can be
// started again.
func (d *Dashboard) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dashboard is already running")
	}

	d.stopChannel = make(chan struct{})
	d.server = d.newServer()
	go d.clientBroadcaster(d.stopChannel)

	server := d.server
	go func() {
		log.Info().Str("address", server.Addr).Msg("starting dashboard server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("dashboard server failed")
		}
	}()

	d.isRunning = true
	return nil
}

func (d *Dashboard) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return nil
	}

	close(d.stopChannel)
	d.isRunning = false

	d.clientsMu.Lock()
	for client := range d.clients {
		client.Close()
	}
	d.clients = make(map[*websocket.Conn]bool)
	d.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown dashboard server")
		return err
	}

	log.Info().Msg("dashboard stopped")
	return nil
}

// NotifyRun queues a run summary for websocket clients. It never blocks;
// when the queue is full the summary is dropped.
func (d *Dashboard) NotifyRun(run storage.RunRecord) {
	ev := Event{Type: EventRun, Time: time.Now(), Run: &run}
	select {
	case d.broadcastChannel <- ev:
	default:
		log.Warn().Str("run_id", run.ID).Msg("broadcast queue full, run summary dropped")
	}
}

func (d *Dashboard) clientBroadcaster(stop <-chan struct{}) {
	for {
		select {
		case ev := <-d.broadcastChannel:
			d.broadcastToClients(ev)
		case <-stop:
			return
		}
	}
}

func (d *Dashboard) broadcastToClients(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()

	for client := range d.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("dropping websocket client")
			client.Close()
			delete(d.clients, client)
		}
	}
}

func (d *Dashboard) hello() Event {
	ev := Event{Type: EventHello, Time: time.Now(), Overview: &d.overview}
	if d.detector != nil {
		ev.Models = d.detector.Models()
	}
	return ev
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	// the greeting is written before the client can receive broadcasts
	d.clientsMu.Lock()
	if err := conn.WriteJSON(d.hello()); err != nil {
		d.clientsMu.Unlock()
		return
	}
	d.clients[conn] = true
	d.clientsMu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	d.clientsMu.Lock()
	delete(d.clients, conn)
	d.clientsMu.Unlock()
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"rows":   len(d.records),
	})
}

func (d *Dashboard) handleOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.overview)
}

func (d *Dashboard) handleFraudByState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, analysis.FraudByState(d.records))
}

func (d *Dashboard) handleFraudByCity(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", analysis.TopCities)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "n must be a positive integer")
		return
	}
	writeJSON(w, http.StatusOK, analysis.FraudByCity(d.records, n))
}

func (d *Dashboard) handleFullFraudCities(w http.ResponseWriter, r *http.Request) {
	cities := analysis.FullFraudCities(d.records)
	if cities == nil {
		cities = []string{}
	}
	writeJSON(w, http.StatusOK, cities)
}

func (d *Dashboard) handleFraudByCategory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, analysis.FraudByCategory(d.records))
}

func (d *Dashboard) handleCustomers(w http.ResponseWriter, r *http.Request) {
	profiles, _ := analysis.CustomerBehavior(d.records)
	writeJSON(w, http.StatusOK, profiles)
}

// handleCustomer returns a customer's profile and raw transactions.
func (d *Dashboard) handleCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}

	profiles, _ := analysis.CustomerBehavior(d.records)
	if id < 0 || id >= len(profiles) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("customer %d not found", id))
		return
	}

	ids := analysis.AssignIDs(d.records)
	rows := make([][]string, 0, profiles[id].Transactions)
	for i, cid := range ids {
		if cid == id {
			rows = append(rows, d.table.Rows[i])
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile":      profiles[id],
		"header":       d.table.Header,
		"transactions": rows,
	})
}

func (d *Dashboard) handleBehavior(w http.ResponseWriter, r *http.Request) {
	_, flags := analysis.CustomerBehavior(d.records)
	writeJSON(w, http.StatusOK, analysis.FlagFraudRates(d.records, flags))
}

func (d *Dashboard) handleFrequency(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	customer, err := intParam(r, "customer", -1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}

	rows := analysis.PurchaseFrequency(d.records)
	if customer >= 0 {
		filtered := rows[:0:0]
		for _, fr := range rows {
			if fr.CustomerID == customer {
				filtered = append(filtered, fr)
			}
		}
		rows = filtered
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, rows)
}

func (d *Dashboard) handleDateTime(w http.ResponseWriter, r *http.Request) {
	unit, err := analysis.ParseTimeUnit(mux.Vars(r)["unit"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analysis.DateTimeBreakdown(d.records, unit))
}

func (d *Dashboard) handleModels(w http.ResponseWriter, r *http.Request) {
	models := []string{}
	if d.detector != nil {
		models = d.detector.Models()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": d.defaultModel,
		"models":  models,
	})
}

// handlePredict scores an uploaded CSV and answers with the same CSV plus a
// prediction column.
func (d *Dashboard) handlePredict(w http.ResponseWriter, r *http.Request) {
	if d.detector == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		model = d.defaultModel
	}

	table, err := transaction.ReadCSV(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := d.detector.Detect(r.Context(), table, model)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="predictions.csv"`)
	w.Header().Set("X-Run-ID", res.Run.ID)
	w.Header().Set("X-Fraud-Count", strconv.Itoa(res.Run.Frauds))
	if err := res.Output.WriteCSV(w); err != nil {
		log.Error().Err(err).Msg("failed to write predictions")
	}
}

func (d *Dashboard) handleRuns(w http.ResponseWriter, r *http.Request) {
	if d.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		model = d.defaultModel
	}

	end := time.Now()
	start := end.Add(-7 * 24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		dur, err := time.ParseDuration(s)
		if err != nil || dur <= 0 {
			writeError(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		start = end.Add(-dur)
	}

	runs, err := d.runs.GetRuns(model, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ml.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, transaction.ErrMissingColumn),
		errors.Is(err, features.ErrSchemaMismatch),
		errors.Is(err, features.ErrEmptyBatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ml.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// writeJSON encodes v before writing the status, so an encoding failure
// answers 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
