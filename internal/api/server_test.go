package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/wheelhouse/internal/detector"
	"github.com/eddiefleurent/wheelhouse/internal/importer"
	"github.com/eddiefleurent/wheelhouse/internal/lots"
	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/storage"
)

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) GetPrice(_ context.Context, ticker string) (float64, bool) {
	p, ok := f.prices[ticker]
	return p, ok
}

type fakePositions struct {
	positions []detector.BrokeragePosition
	err       error
}

func (f *fakePositions) ListActivePositions(_ context.Context, _ string, _ []string) ([]detector.BrokeragePosition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.positions, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, opts ...func(*Server)) (*Server, *storage.MockStorage) {
	t.Helper()
	store := storage.NewMockStorage()
	assembler := lots.NewAssembler(store)
	imp := importer.NewImporter(store, assembler, testLogger())

	srv := NewServer(Config{ListenAddr: ":0"}, store, assembler, imp, nil, nil, testLogger())
	for _, opt := range opts {
		opt(srv)
	}
	return srv, store
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func mustCreateCycle(t *testing.T, srv *Server, ticker string) models.WheelCycle {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/cycles", map[string]interface{}{
		"ticker":     ticker,
		"started_at": "2025-03-03T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cycle models.WheelCycle
	decodeBody(t, rec, &cycle)
	return cycle
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, func(s *Server) {
		s.cfg.AuthToken = "secret"
	})
	// Route middleware is bound at construction, so rebuild with the token set.
	srv = NewServer(srv.cfg, srv.store, srv.assembler, srv.importer, nil, nil, testLogger())

	t.Run("health bypasses auth", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/cycles", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("header token accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/cycles", nil)
		req.Header.Set("X-Auth-Token", "secret")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("query token accepted", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/cycles?token=secret", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCycleLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	cycle := mustCreateCycle(t, srv, "sofi")
	assert.Equal(t, "SOFI", cycle.Ticker)
	assert.Equal(t, models.CycleOpen, cycle.Status)
	assert.Equal(t, "SOFI-2025-03-03", cycle.CycleKey)

	rec := doJSON(t, srv, http.MethodGet, "/api/cycles/"+cycle.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/cycles", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []models.WheelCycle
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)

	// Same ticker and start date collides on the derived key.
	rec = doJSON(t, srv, http.MethodPost, "/api/cycles", map[string]interface{}{
		"ticker":     "SOFI",
		"started_at": "2025-03-03T00:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/cycles/"+cycle.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/cycles/"+cycle.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchCycleClosesIt(t *testing.T) {
	srv, _ := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	rec := doJSON(t, srv, http.MethodPatch, "/api/cycles/"+cycle.ID, map[string]string{
		"status": "Closed",
		"notes":  "wheel complete",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated models.WheelCycle
	decodeBody(t, rec, &updated)
	assert.Equal(t, models.CycleClosed, updated.Status)
	assert.Equal(t, "wheel complete", updated.Notes)

	rec = doJSON(t, srv, http.MethodPatch, "/api/cycles/"+cycle.ID, map[string]string{
		"status": "Paused",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEventsRebuildsLots(t *testing.T) {
	srv, _ := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	batch := []map[string]interface{}{
		{
			"event_type": "SELL_PUT_OPEN",
			"trade_date": "2025-03-03T00:00:00Z",
			"contracts":  -2,
			"strike":     40.0,
			"premium":    1.25,
		},
		{
			"event_type": "ASSIGNMENT",
			"trade_date": "2025-03-21T00:00:00Z",
			"contracts":  2,
			"strike":     40.0,
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", batch)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created []models.WheelEvent
	decodeBody(t, rec, &created)
	require.Len(t, created, 2)
	assert.Less(t, created[0].Seq, created[1].Seq)

	rec = doJSON(t, srv, http.MethodGet, "/api/lots?cycle_id="+cycle.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lotList []models.Lot
	decodeBody(t, rec, &lotList)
	require.Len(t, lotList, 2)
	for _, lot := range lotList {
		assert.Equal(t, models.LotOpenUncovered, lot.Status)
		assert.Equal(t, models.AcquireAssignment, lot.AcquisitionMethod)
		assert.InDelta(t, 40.0, lot.CostBasis, 1e-9)
	}
}

func TestCreateEventSingleObject(t *testing.T) {
	srv, _ := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", map[string]interface{}{
		"event_type":      "BUY_SHARES",
		"trade_date":      "2025-03-04T00:00:00Z",
		"quantity_shares": 100,
		"price":           35.50,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created []models.WheelEvent
	decodeBody(t, rec, &created)
	require.Len(t, created, 1)
	assert.Equal(t, models.EventBuyShares, created[0].EventType)
}

func TestCreateEventRejectsUnknownType(t *testing.T) {
	srv, _ := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", map[string]interface{}{
		"event_type": "EXERCISE",
		"trade_date": "2025-03-04T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListLotsFilters(t *testing.T) {
	srv, _ := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	batch := []map[string]interface{}{
		{"event_type": "BUY_SHARES", "trade_date": "2025-03-04T00:00:00Z", "quantity_shares": 200, "price": 35.0},
		{"event_type": "SELL_CALL_OPEN", "trade_date": "2025-03-05T00:00:00Z", "contracts": -1, "strike": 40.0, "premium": 1.10},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", batch)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodGet, "/api/lots?covered=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var covered []models.Lot
	decodeBody(t, rec, &covered)
	assert.Len(t, covered, 1)

	rec = doJSON(t, srv, http.MethodGet, "/api/lots?covered=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var uncovered []models.Lot
	decodeBody(t, rec, &uncovered)
	assert.Len(t, uncovered, 1)

	rec = doJSON(t, srv, http.MethodGet, "/api/lots?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBindAndUnbindCall(t *testing.T) {
	srv, store := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", map[string]interface{}{
		"event_type":      "BUY_SHARES",
		"trade_date":      "2025-03-04T00:00:00Z",
		"quantity_shares": 100,
		"price":           35.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Record a call open without letting the assembler match it, mimicking a
	// manual correction flow.
	callOpen := &models.WheelEvent{
		CycleID:   cycle.ID,
		EventType: models.EventSellCallOpen,
		TradeDate: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		Contracts: -1,
		Strike:    40.0,
		Premium:   1.10,
	}
	require.NoError(t, store.CreateEvent(callOpen))

	lotsList, err := store.ListLots(storage.LotFilter{CycleID: cycle.ID})
	require.NoError(t, err)
	require.Len(t, lotsList, 1)
	lotID := lotsList[0].ID

	rec = doJSON(t, srv, http.MethodPost, "/api/lots/"+lotID+"/bind-call", map[string]string{
		"event_id": callOpen.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	lot, err := store.GetLot(lotID)
	require.NoError(t, err)
	assert.Equal(t, models.LotOpenCovered, lot.Status)

	rec = doJSON(t, srv, http.MethodGet, "/api/lots/"+lotID+"/links", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var linksBody struct {
		Links  []models.LotLink    `json:"links"`
		Events []models.WheelEvent `json:"events"`
	}
	decodeBody(t, rec, &linksBody)
	assert.Len(t, linksBody.Events, 2) // stock buy + bound call

	rec = doJSON(t, srv, http.MethodPost, "/api/lots/"+lotID+"/unbind-call", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	lot, err = store.GetLot(lotID)
	require.NoError(t, err)
	assert.Equal(t, models.LotOpenUncovered, lot.Status)
}

func TestBindCallRejectsWrongEventType(t *testing.T) {
	srv, store := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", map[string]interface{}{
		"event_type":      "BUY_SHARES",
		"trade_date":      "2025-03-04T00:00:00Z",
		"quantity_shares": 100,
		"price":           35.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	events, err := store.ListEvents(cycle.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	lotsList, err := store.ListLots(storage.LotFilter{CycleID: cycle.ID})
	require.NoError(t, err)
	require.Len(t, lotsList, 1)

	rec = doJSON(t, srv, http.MethodPost, "/api/lots/"+lotsList[0].ID+"/bind-call", map[string]string{
		"event_id": events[0].ID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummaryCountsOpenPutCollateral(t *testing.T) {
	srv, store := newTestServer(t)
	open := mustCreateCycle(t, srv, "HIMS")

	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+open.ID+"/events", map[string]interface{}{
		"event_type": "SELL_PUT_OPEN",
		"trade_date": "2025-03-03T00:00:00Z",
		"contracts":  -2,
		"strike":     40.0,
		"premium":    1.25,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Closed cycles contribute nothing.
	closed := &models.WheelCycle{
		Ticker:    "SOFI",
		Status:    models.CycleClosed,
		StartedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateCycle(closed))
	require.NoError(t, store.CreateEvent(&models.WheelEvent{
		CycleID:   closed.ID,
		EventType: models.EventSellPutOpen,
		TradeDate: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Contracts: -1,
		Strike:    15.0,
	}))

	rec = doJSON(t, srv, http.MethodGet, "/api/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		OpenCycles      int     `json:"open_cycles"`
		TotalCollateral float64 `json:"total_collateral"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, 1, body.OpenCycles)
	assert.InDelta(t, 8000.0, body.TotalCollateral, 1e-9) // 2 contracts x 40 strike x 100
}

func TestLotMetricsUsesPriceSource(t *testing.T) {
	srv, store := newTestServer(t, func(s *Server) {
		s.prices = &fakePrices{prices: map[string]float64{"HIMS": 42.0}}
	})
	cycle := mustCreateCycle(t, srv, "HIMS")

	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", map[string]interface{}{
		"event_type":      "BUY_SHARES",
		"trade_date":      "2025-03-04T00:00:00Z",
		"quantity_shares": 100,
		"price":           35.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	lotsList, err := store.ListLots(storage.LotFilter{CycleID: cycle.ID})
	require.NoError(t, err)
	require.Len(t, lotsList, 1)

	rec = doJSON(t, srv, http.MethodGet, "/api/lots/"+lotsList[0].ID+"/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var metrics models.LotMetrics
	decodeBody(t, rec, &metrics)
	require.NotNil(t, metrics.UnrealizedPnL)
	assert.InDelta(t, 700.0, *metrics.UnrealizedPnL, 1e-9) // (42 - 35) x 100
}

func TestDetectEndpoint(t *testing.T) {
	positions := &fakePositions{positions: []detector.BrokeragePosition{
		{
			ID:            "p1",
			Symbol:        "HIMS",
			AssetType:     "EQUITY",
			LongQuantity:  100,
			AveragePrice:  35.0,
			MarketValue:   4200.0,
			DataSource:    "tradier",
		},
		{
			ID:               "p2",
			Symbol:           "HIMS251017C00040000",
			UnderlyingSymbol: "HIMS",
			AssetType:        "OPTION",
			OptionType:       models.OptionCall,
			StrikePrice:      40.0,
			ExpirationDate:   "2025-10-17",
			ShortQuantity:    1,
			MarketValue:      -110.0,
			DataSource:       "tradier",
		},
	}}
	srv, _ := newTestServer(t, func(s *Server) {
		s.positions = positions
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/detect", models.DetectionRequest{AccountID: "acct-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []models.WheelDetectionResult
	decodeBody(t, rec, &results)
	require.Len(t, results, 1)
	assert.Equal(t, "HIMS", results[0].Ticker)
	assert.Equal(t, models.StrategyCoveredCall, results[0].Strategy)
}

func TestDetectFiltersByMinConfidence(t *testing.T) {
	positions := &fakePositions{positions: []detector.BrokeragePosition{
		{ID: "p1", Symbol: "AAA", AssetType: "EQUITY", LongQuantity: 100},
	}}
	srv, _ := newTestServer(t, func(s *Server) {
		s.positions = positions
		s.cfg.MinConfidence = 95 // naked stock scores well below this
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/detect", models.DetectionRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []models.WheelDetectionResult
	decodeBody(t, rec, &results)
	assert.Empty(t, results)
}

func TestDetectWithoutPositionSource(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/detect", models.DetectionRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestImportEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	csvData := strings.Join([]string{
		"Symbol,HIMS,,,Option Opened,Option Type,Buy/Sell,Expiration,Strike,Contracts,Premium,Total,Status,Closed Date,Closing Cost,,,,,Stock Date,,Action,Shares,Cost",
		",,,,1/6/2025,PUT,SELL,2/21/2025,20,2,1.10,218.70,,,,,,,,,,,,",
		",,,,,,,,,,,,,,,,,,,1/10/2025,,BUY,100,21.50",
	}, "\n")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "hims_wheel.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csvData))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary importer.Summary
	decodeBody(t, rec, &summary)
	assert.Equal(t, "HIMS", summary.Ticker)
	assert.Positive(t, summary.LotsCreated)

	cycle, err := store.GetCycle(summary.CycleID)
	require.NoError(t, err)
	assert.Equal(t, "HIMS", cycle.Ticker)
}

func TestCycleMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	cycle := mustCreateCycle(t, srv, "HIMS")

	batch := []map[string]interface{}{
		{"event_type": "SELL_PUT_OPEN", "trade_date": "2025-03-03T00:00:00Z", "contracts": -1, "strike": 40.0, "premium": 1.25},
		{"event_type": "SELL_PUT_CLOSE", "trade_date": "2025-03-10T00:00:00Z", "contracts": 1, "strike": 40.0, "premium": 0.40},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/cycles/"+cycle.ID+"/events", batch)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/cycles/%s/metrics", cycle.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var metrics models.CycleMetrics
	decodeBody(t, rec, &metrics)
	assert.InDelta(t, 85.0, metrics.NetOptionsCashflow, 1e-9) // (1.25 - 0.40) x 100
	assert.InDelta(t, 85.0, metrics.TotalRealizedPnL, 1e-9)
}
