// Package importer ingests Wheel Tracker spreadsheet exports into cycles and
// events, then rebuilds lots for the imported cycle.
//
// The parser is deliberately tolerant: blank rows, spreadsheet formula
// residue (=IF(...), __xludf.dummyfunction(...)), currency strings like
// $200.00, and parenthesized negatives all pass through without aborting the
// import. A row that cannot be understood is skipped, not fatal.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheelhouse/internal/lots"
	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/storage"
)

// Wheel Tracker sheet layout, 0-based column indices. The option trade
// segment and the stock trade segment live side by side in the same row.
const (
	colOptionOpened      = 4
	colOptionCallPut     = 5
	colOptionBuySell     = 6
	colOptionStrike      = 8
	colOptionQuantity    = 9
	colOptionPrice       = 10
	colOptionStatus      = 12
	colOptionDateClosed  = 13
	colOptionClosingCost = 14

	colStockDate    = 19
	colStockBuySell = 21
	colStockShares  = 22
	colStockCost    = 23
)

// Summary reports what one import created.
type Summary struct {
	CycleID             string         `json:"cycle_id"`
	Ticker              string         `json:"ticker"`
	EventsCreatedByType map[string]int `json:"events_created_by_type"`
	LotsCreated         int            `json:"lots_created"`
	FirstDate           string         `json:"first_date,omitempty"`
	LastDate            string         `json:"last_date,omitempty"`
}

// Importer converts Wheel Tracker CSV exports into stored cycles and events.
type Importer struct {
	store     storage.Interface
	assembler *lots.Assembler
	logger    *logrus.Logger
}

// NewImporter creates an importer. A nil logger gets a discard default.
func NewImporter(store storage.Interface, assembler *lots.Assembler, logger *logrus.Logger) *Importer {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Importer{store: store, assembler: assembler, logger: logger}
}

// ImportFile imports a Wheel Tracker CSV from disk. cycleKey may be empty,
// in which case the filename stem becomes the key.
func (im *Importer) ImportFile(path, cycleKey string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return im.Import(f, filepath.Base(path), cycleKey)
}

// Import reads CSV data and records its trades against a cycle. Re-importing
// into a cycle that already has events is a no-op so imports stay idempotent.
func (im *Importer) Import(r io.Reader, filename, cycleKey string) (*Summary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	stripBOM(rows)

	ticker := findSymbol(rows)
	if ticker == "" {
		ticker = strings.ToUpper(strings.SplitN(stem(filename), "_", 2)[0])
	}
	if ticker == "" {
		return nil, fmt.Errorf("unable to determine ticker symbol from CSV")
	}

	key := strings.ToUpper(cycleKey)
	if key == "" {
		key = strings.ToUpper(stem(filename))
	}

	cycle, err := im.store.GetCycleByKey(key)
	if err != nil {
		cycle = &models.WheelCycle{
			CycleKey:  key,
			Ticker:    ticker,
			Status:    models.CycleOpen,
			StartedAt: time.Now().UTC(),
			Notes:     fmt.Sprintf("Imported from %s", filename),
		}
		if err := im.store.CreateCycle(cycle); err != nil {
			return nil, fmt.Errorf("creating cycle: %w", err)
		}
	}

	summary := &Summary{
		CycleID:             cycle.ID,
		Ticker:              ticker,
		EventsCreatedByType: make(map[string]int),
	}

	// Idempotence guard: a cycle with events was already imported.
	existing, err := im.store.ListEvents(cycle.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		im.logger.WithField("cycle_key", key).Info("cycle already has events, skipping import")
		return summary, nil
	}

	var firstDate, lastDate time.Time
	recordDate := func(d time.Time) {
		if firstDate.IsZero() || d.Before(firstDate) {
			firstDate = d
		}
		if lastDate.IsZero() || d.After(lastDate) {
			lastDate = d
		}
	}

	// Most recent open per side, for close-event linkage.
	lastOpen := map[string]string{}

	for _, row := range rows {
		im.importOptionSegment(cycle, row, summary, lastOpen, recordDate)
		im.importStockSegment(cycle, row, summary, recordDate)
	}

	if !firstDate.IsZero() {
		summary.FirstDate = firstDate.Format("2006-01-02")
		summary.LastDate = lastDate.Format("2006-01-02")
		cycle.StartedAt = firstDate
		if err := im.store.UpdateCycle(cycle); err != nil {
			return nil, fmt.Errorf("updating cycle start date: %w", err)
		}
	}

	result, err := im.assembler.RebuildForCycle(cycle.ID)
	if err != nil {
		return nil, fmt.Errorf("rebuilding lots: %w", err)
	}
	summary.LotsCreated = len(result.Lots)

	return summary, nil
}

func (im *Importer) importOptionSegment(
	cycle *models.WheelCycle,
	row []string,
	summary *Summary,
	lastOpen map[string]string,
	recordDate func(time.Time),
) {
	if len(row) <= colOptionPrice {
		return
	}

	opened, openedOK := parseDate(cell(row, colOptionOpened))
	side := strings.ToUpper(cleanStr(cell(row, colOptionCallPut)))
	buySell := strings.ToUpper(cleanStr(cell(row, colOptionBuySell)))
	strike, _ := parseMoney(cell(row, colOptionStrike))
	qty, qtyOK := parseInt(cell(row, colOptionQuantity))
	price, priceOK := parseMoney(cell(row, colOptionPrice))
	status := strings.ToUpper(cleanStr(cell(row, colOptionStatus)))
	closedDate, closedOK := parseDate(cell(row, colOptionDateClosed))
	closingCost, closingCostOK := parseMoney(cell(row, colOptionClosingCost))

	if side != "PUT" && side != "CALL" {
		return
	}

	// Buy-to-open rows are ignored; only sell-side cashflows are tracked.
	if openedOK && buySell == "SELL" && qtyOK && qty != 0 && priceOK {
		eventType := models.EventSellPutOpen
		if side == "CALL" {
			eventType = models.EventSellCallOpen
		}
		event := &models.WheelEvent{
			CycleID:   cycle.ID,
			EventType: eventType,
			TradeDate: opened,
			Contracts: -abs(qty),
			Strike:    strike,
			Premium:   price,
		}
		if err := im.store.CreateEvent(event); err != nil {
			im.logger.WithError(err).Warn("skipping unstorable option open row")
			return
		}
		lastOpen[side] = event.ID
		summary.EventsCreatedByType[string(eventType)]++
		recordDate(opened)
	}

	if closedOK && closingCostOK && closeStatusKnown(status) {
		eventType := models.EventSellPutClose
		if side == "CALL" {
			eventType = models.EventSellCallClose
		}
		contracts := qty
		if contracts == 0 {
			contracts = 1
		}
		event := &models.WheelEvent{
			CycleID:     cycle.ID,
			EventType:   eventType,
			TradeDate:   closedDate,
			Contracts:   abs(contracts),
			Premium:     closingCost,
			LinkEventID: lastOpen[side],
		}
		if err := im.store.CreateEvent(event); err != nil {
			im.logger.WithError(err).Warn("skipping unstorable option close row")
			return
		}
		summary.EventsCreatedByType[string(eventType)]++
		recordDate(closedDate)
	}
}

func (im *Importer) importStockSegment(
	cycle *models.WheelCycle,
	row []string,
	summary *Summary,
	recordDate func(time.Time),
) {
	if len(row) <= colStockCost {
		return
	}

	tradeDate, dateOK := parseDate(cell(row, colStockDate))
	buySell := strings.ToUpper(cleanStr(cell(row, colStockBuySell)))
	shares, sharesOK := parseInt(cell(row, colStockShares))
	cost, costOK := parseMoney(cell(row, colStockCost))

	if !dateOK || !sharesOK || shares == 0 || !costOK {
		return
	}
	if buySell != "BUY" && buySell != "SELL" {
		return
	}

	eventType := models.EventBuyShares
	if buySell == "SELL" {
		eventType = models.EventSellShares
	}
	event := &models.WheelEvent{
		CycleID:        cycle.ID,
		EventType:      eventType,
		TradeDate:      tradeDate,
		QuantityShares: abs(shares),
		Price:          cost,
	}
	if err := im.store.CreateEvent(event); err != nil {
		im.logger.WithError(err).Warn("skipping unstorable stock row")
		return
	}
	summary.EventsCreatedByType[string(eventType)]++
	recordDate(tradeDate)
}

func closeStatusKnown(status string) bool {
	switch status {
	case "CLOSED", "ROLLED", "EXPIRED", "CLOSED/EXPIRED/ROLLED", "PENDING":
		return true
	}
	return false
}

// --- cell parsing helpers ---

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

func cleanStr(s string) string {
	return strings.TrimSpace(s)
}

// isFormula reports spreadsheet formula residue we must never parse.
func isFormula(s string) bool {
	return strings.HasPrefix(s, "=") || strings.HasPrefix(s, "__xludf")
}

func parseMoney(s string) (float64, bool) {
	txt := cleanStr(s)
	if txt == "" || isFormula(txt) {
		return 0, false
	}
	replacer := strings.NewReplacer("$", "", ",", "", "USD", "", " ", "")
	txt = replacer.Replace(txt)

	neg := false
	if strings.HasPrefix(txt, "(") && strings.HasSuffix(txt, ")") {
		neg = true
		txt = txt[1 : len(txt)-1]
	}
	val, err := strconv.ParseFloat(txt, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		val = -val
	}
	return val, true
}

func parseInt(s string) (int, bool) {
	txt := cleanStr(s)
	if txt == "" || isFormula(txt) {
		return 0, false
	}
	val, err := strconv.ParseFloat(txt, 64)
	if err != nil {
		return 0, false
	}
	return int(val), true
}

var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"1/2/2006 15:04",
	"1/2/06 15:04",
}

func parseDate(s string) (time.Time, bool) {
	txt := cleanStr(s)
	if txt == "" || isFormula(txt) {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, txt); err == nil {
			return d.UTC(), true
		}
	}
	// Coerce partial dates like 8/8 using the current year.
	parts := strings.FieldsFunc(strings.ReplaceAll(txt, "-", "/"), func(r rune) bool { return r == '/' })
	if len(parts) >= 2 {
		m, errM := strconv.Atoi(parts[0])
		d, errD := strconv.Atoi(parts[1])
		if errM == nil && errD == nil && m >= 1 && m <= 12 && d >= 1 && d <= 31 {
			y := time.Now().UTC().Year()
			if len(parts) >= 3 {
				if yy, err := strconv.Atoi(parts[2]); err == nil {
					if yy < 100 {
						y = 2000 + yy
					} else {
						y = yy
					}
				}
			}
			return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// findSymbol scans for a "Symbol" label cell and returns the next non-empty
// cell to its right.
func findSymbol(rows [][]string) string {
	for _, row := range rows {
		for i, c := range row {
			if strings.EqualFold(cleanStr(c), "symbol") {
				for j := i + 1; j < len(row); j++ {
					val := strings.ToUpper(cleanStr(row[j]))
					if val != "" && !isFormula(val) {
						return val
					}
				}
			}
		}
	}
	return ""
}

func stem(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

func stripBOM(rows [][]string) {
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
