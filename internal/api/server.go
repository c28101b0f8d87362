// Package api exposes the wheel tracker as a JSON HTTP service: cycle and
// event recording, lot rebuilds and queries, metrics, strategy detection,
// and CSV import.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheelhouse/internal/detector"
	"github.com/eddiefleurent/wheelhouse/internal/importer"
	"github.com/eddiefleurent/wheelhouse/internal/lots"
	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/pricing"
	"github.com/eddiefleurent/wheelhouse/internal/storage"
)

// maxImportBytes caps uploaded CSV size.
const maxImportBytes = 8 << 20

// Config carries the server's wiring options.
type Config struct {
	ListenAddr    string
	AuthToken     string
	AccountID     string
	RiskTolerance models.RiskTolerance
	Tickers       []string // default detection universe
	CashBalance   *float64 // default balance for cash validation
	MinConfidence int      // drop detection results scoring below this
}

// Server is the HTTP surface over storage, the lot assembler, pricing, and
// detection. Prices and positions are optional: without a market data
// source the endpoints still work, they just omit live-price fields.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     storage.Interface
	assembler *lots.Assembler
	importer  *importer.Importer
	prices    pricing.PriceLookup
	positions detector.PositionSource
	logger    *logrus.Logger
	cfg       Config
}

// NewServer wires the routes. prices and positions may be nil.
func NewServer(
	cfg Config,
	store storage.Interface,
	assembler *lots.Assembler,
	imp *importer.Importer,
	prices pricing.PriceLookup,
	positions detector.PositionSource,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		assembler: assembler,
		importer:  imp,
		prices:    prices,
		positions: positions,
		logger:    logger,
		cfg:       cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.cfg.AuthToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Post("/detect", s.handleDetect)
		r.Post("/import", s.handleImport)

		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", s.handleListCycles)
			r.Post("/", s.handleCreateCycle)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCycle)
				r.Patch("/", s.handlePatchCycle)
				r.Delete("/", s.handleDeleteCycle)
				r.Get("/events", s.handleListEvents)
				r.Post("/events", s.handleCreateEvents)
				r.Post("/rebuild", s.handleRebuildLots)
				r.Get("/metrics", s.handleCycleMetrics)
			})
		})

		r.Route("/lots", func(r chi.Router) {
			r.Get("/", s.handleListLots)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetLot)
				r.Patch("/", s.handlePatchLot)
				r.Get("/links", s.handleLotLinks)
				r.Get("/metrics", s.handleLotMetrics)
				r.Post("/bind-call", s.handleBindCall)
				r.Post("/bind-call-close", s.handleBindCallClose)
				r.Post("/unbind-call", s.handleUnbindCall)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.cfg.AuthToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting API server on %s", s.cfg.ListenAddr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// --- response helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeStorageError maps storage sentinel errors onto HTTP statuses.
func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("storage operation failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// --- summary ---

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	cycles, err := s.store.ListCycles()
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	openCycles := 0
	totalCollateral := 0.0
	for i := range cycles {
		if cycles[i].Status != models.CycleOpen {
			continue
		}
		openCycles++
		events, err := s.store.ListEvents(cycles[i].ID)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		for j := range events {
			e := &events[j]
			// Collateral counts escrow for every short put sold, matched or
			// not; a tracker, not a margin engine.
			if e.EventType == models.EventSellPutOpen && e.Strike > 0 {
				totalCollateral += float64(e.ContractCount()) * e.Strike * float64(models.SharesPerContract)
			}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"open_cycles":      openCycles,
		"total_collateral": totalCollateral,
	})
}

// --- cycles ---

func (s *Server) handleListCycles(w http.ResponseWriter, _ *http.Request) {
	cycles, err := s.store.ListCycles()
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handleCreateCycle(w http.ResponseWriter, r *http.Request) {
	var cycle models.WheelCycle
	if err := json.NewDecoder(r.Body).Decode(&cycle); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid cycle payload")
		return
	}
	if cycle.Status == "" {
		cycle.Status = models.CycleOpen
	}
	if cycle.StartedAt.IsZero() {
		cycle.StartedAt = time.Now().UTC()
	}
	if err := s.store.CreateCycle(&cycle); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) || errors.Is(err, storage.ErrNotFound) {
			s.writeStorageError(w, err)
		} else {
			s.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, cycle)
}

func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.store.GetCycle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cycle)
}

// handlePatchCycle updates a cycle's status or notes. Closing a cycle is a
// manual bookkeeping act; events and lots are untouched.
func (s *Server) handlePatchCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.store.GetCycle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	var patch struct {
		Status *models.CycleStatus `json:"status"`
		Notes  *string             `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid patch payload")
		return
	}
	if patch.Status != nil {
		if *patch.Status != models.CycleOpen && *patch.Status != models.CycleClosed {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid cycle status %q", *patch.Status))
			return
		}
		cycle.Status = *patch.Status
	}
	if patch.Notes != nil {
		cycle.Notes = *patch.Notes
	}
	if err := s.store.UpdateCycle(cycle); err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cycle)
}

func (s *Server) handleDeleteCycle(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCycle(chi.URLParam(r, "id")); err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"detail": "deleted"})
}

// --- events ---

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	cycleID := chi.URLParam(r, "id")
	if _, err := s.store.GetCycle(cycleID); err != nil {
		s.writeStorageError(w, err)
		return
	}
	events, err := s.store.ListEvents(cycleID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// handleCreateEvents accepts one event or a batch, then rebuilds the
// cycle's lots so reads never see a stale lot set.
func (s *Server) handleCreateEvents(w http.ResponseWriter, r *http.Request) {
	cycleID := chi.URLParam(r, "id")
	if _, err := s.store.GetCycle(cycleID); err != nil {
		s.writeStorageError(w, err)
		return
	}

	body, err := readBatch(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created := make([]models.WheelEvent, 0, len(body))
	for i := range body {
		body[i].CycleID = cycleID
		if err := s.store.CreateEvent(&body[i]); err != nil {
			s.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("event %d: %v (events before it were recorded)", i, err))
			return
		}
		created = append(created, body[i])
	}

	if _, err := s.assembler.RebuildForCycle(cycleID); err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

// readBatch decodes either a single event object or an array of them.
func readBatch(r *http.Request) ([]models.WheelEvent, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid event payload")
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var batch []models.WheelEvent
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("invalid event batch payload")
		}
		return batch, nil
	}
	var one models.WheelEvent
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("invalid event payload")
	}
	return []models.WheelEvent{one}, nil
}

// --- lots ---

func (s *Server) handleRebuildLots(w http.ResponseWriter, r *http.Request) {
	result, err := s.assembler.RebuildForCycle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCycleMetrics(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.store.GetCycle(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	events, err := s.store.ListEvents(cycle.ID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	metrics := lots.ComputeCycleMetrics(cycle, events, s.lookupPrice(r.Context(), cycle.Ticker))
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleListLots(w http.ResponseWriter, r *http.Request) {
	filter := storage.LotFilter{
		CycleID: r.URL.Query().Get("cycle_id"),
		Ticker:  r.URL.Query().Get("ticker"),
		Status:  models.LotStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid lot status %q", filter.Status))
		return
	}
	if raw := r.URL.Query().Get("covered"); raw != "" {
		covered, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "covered must be true or false")
			return
		}
		filter.Covered = &covered
	}

	result, err := s.store.ListLots(filter)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetLot(w http.ResponseWriter, r *http.Request) {
	lot, err := s.store.GetLot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lot)
}

// handlePatchLot updates a lot's notes. Status is assembler-owned and not
// patchable; use bind/unbind for manual coverage corrections.
func (s *Server) handlePatchLot(w http.ResponseWriter, r *http.Request) {
	lot, err := s.store.GetLot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	var patch struct {
		Notes *string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid patch payload")
		return
	}
	if patch.Notes != nil {
		lot.Notes = *patch.Notes
	}
	if err := s.store.UpdateLot(lot); err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lot)
}

func (s *Server) handleLotLinks(w http.ResponseWriter, r *http.Request) {
	lotID := chi.URLParam(r, "id")
	if _, err := s.store.GetLot(lotID); err != nil {
		s.writeStorageError(w, err)
		return
	}
	links, err := s.store.ListLotLinks(lotID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	events := make([]models.WheelEvent, 0, len(links))
	for _, link := range links {
		if link.LinkedObjectType != models.LinkedObjectWheelEvent {
			continue
		}
		if e, err := s.store.GetEvent(link.LinkedObjectID); err == nil {
			events = append(events, *e)
		}
	}
	models.SortEvents(events)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"links":  links,
		"events": events,
	})
}

func (s *Server) handleLotMetrics(w http.ResponseWriter, r *http.Request) {
	lot, err := s.store.GetLot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	metrics, err := lots.RefreshMetrics(s.store, lot, s.lookupPrice(r.Context(), lot.Ticker), time.Now().UTC())
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

// --- manual call bind/unbind ---

type bindRequest struct {
	EventID string `json:"event_id"`
}

func (s *Server) handleBindCall(w http.ResponseWriter, r *http.Request) {
	s.bindCallEvent(w, r, models.EventSellCallOpen, models.RoleCallOpen)
}

func (s *Server) handleBindCallClose(w http.ResponseWriter, r *http.Request) {
	s.bindCallEvent(w, r, models.EventSellCallClose, models.RoleCallClose)
}

func (s *Server) bindCallEvent(w http.ResponseWriter, r *http.Request, wantType models.EventType, role models.LinkRole) {
	lot, err := s.store.GetLot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID == "" {
		s.writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	event, err := s.store.GetEvent(req.EventID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if event.EventType != wantType {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("event %s is %s, want %s", event.ID, event.EventType, wantType))
		return
	}

	link := &models.LotLink{
		LotID:            lot.ID,
		LinkedObjectType: models.LinkedObjectWheelEvent,
		LinkedObjectID:   event.ID,
		Role:             role,
	}
	if err := s.store.CreateLotLink(link); err != nil {
		s.writeStorageError(w, err)
		return
	}

	switch role {
	case models.RoleCallOpen:
		lot.Status = models.LotOpenCovered
	case models.RoleCallClose:
		if lot.Status == models.LotOpenCovered {
			lot.Status = models.LotOpenUncovered
		}
	}
	if err := s.store.UpdateLot(lot); err != nil {
		s.writeStorageError(w, err)
		return
	}
	if _, err := lots.RefreshMetrics(s.store, lot, s.lookupPrice(r.Context(), lot.Ticker), time.Now().UTC()); err != nil {
		s.logger.WithError(err).Warn("metrics refresh after bind failed")
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"detail": "bound", "link_id": link.ID})
}

func (s *Server) handleUnbindCall(w http.ResponseWriter, r *http.Request) {
	lot, err := s.store.GetLot(chi.URLParam(r, "id"))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	links, err := s.store.ListLotLinks(lot.ID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	for _, link := range links {
		if link.Role == models.RoleCallOpen || link.Role == models.RoleCallClose {
			if err := s.store.DeleteLotLink(link.ID); err != nil {
				s.writeStorageError(w, err)
				return
			}
		}
	}

	if lot.Status == models.LotOpenCovered {
		lot.Status = models.LotOpenUncovered
	}
	if err := s.store.UpdateLot(lot); err != nil {
		s.writeStorageError(w, err)
		return
	}
	if _, err := lots.RefreshMetrics(s.store, lot, s.lookupPrice(r.Context(), lot.Ticker), time.Now().UTC()); err != nil {
		s.logger.WithError(err).Warn("metrics refresh after unbind failed")
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"detail": "unbound"})
}

// --- detection ---

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no position source configured")
		return
	}

	var req models.DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid detection request")
		return
	}
	if req.AccountID == "" {
		req.AccountID = s.cfg.AccountID
	}
	if len(req.SpecificTickers) == 0 {
		req.SpecificTickers = s.cfg.Tickers
	}
	if req.Options == nil {
		req.Options = &models.DetectionOptions{}
	}
	if req.Options.RiskTolerance == "" {
		req.Options.RiskTolerance = s.cfg.RiskTolerance
	}
	if req.Options.CashBalance == nil {
		req.Options.CashBalance = s.cfg.CashBalance
	}

	results, err := detector.DetectWheelStrategies(r.Context(), req, s.positions, time.Now().UTC())
	if err != nil {
		s.logger.WithError(err).Error("detection failed")
		s.writeError(w, http.StatusBadGateway, "position source unavailable")
		return
	}

	if s.cfg.MinConfidence > 0 {
		kept := results[:0]
		for i := range results {
			if results[i].ConfidenceScore >= s.cfg.MinConfidence {
				kept = append(kept, results[i])
			}
		}
		results = kept
	}
	s.writeJSON(w, http.StatusOK, results)
}

// --- import ---

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	summary, err := s.importer.Import(file, header.Filename, r.FormValue("cycle_key"))
	if err != nil {
		s.logger.WithError(err).Error("csv import failed")
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// lookupPrice resolves a ticker's current price when a price source is
// wired, nil otherwise.
func (s *Server) lookupPrice(ctx context.Context, ticker string) *float64 {
	if s.prices == nil {
		return nil
	}
	if price, ok := s.prices.GetPrice(ctx, ticker); ok {
		return &price
	}
	return nil
}
