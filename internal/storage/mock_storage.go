package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/eddiefleurent/wheelhouse/internal/models"
)

// MockStorage implements Interface for testing. It keeps everything in
// memory and lets tests inject save/load failures.
type MockStorage struct {
	saveError     error
	loadError     error
	cycles        []models.WheelCycle
	events        []models.WheelEvent
	lots          []models.Lot
	lotLinks      []models.LotLink
	lotMetrics    map[string]models.LotMetrics
	nextSeq       int64
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		lotMetrics: make(map[string]models.LotMetrics),
		nextSeq:    1,
	}
}

// Cycle management methods

func (m *MockStorage) ListCycles() ([]models.WheelCycle, error) {
	out := make([]models.WheelCycle, len(m.cycles))
	copy(out, m.cycles)
	return out, nil
}

func (m *MockStorage) GetCycle(id string) (*models.WheelCycle, error) {
	for i := range m.cycles {
		if m.cycles[i].ID == id {
			c := m.cycles[i]
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cycle %s: %w", id, ErrNotFound)
}

func (m *MockStorage) GetCycleByKey(cycleKey string) (*models.WheelCycle, error) {
	for i := range m.cycles {
		if m.cycles[i].CycleKey == cycleKey {
			c := m.cycles[i]
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cycle key %s: %w", cycleKey, ErrNotFound)
}

func (m *MockStorage) CreateCycle(cycle *models.WheelCycle) error {
	if cycle == nil {
		return fmt.Errorf("cycle is nil")
	}
	if cycle.Ticker == "" {
		return fmt.Errorf("cycle ticker is required")
	}
	if !cycle.Status.Valid() {
		return fmt.Errorf("invalid cycle status %q", cycle.Status)
	}

	cycle.Ticker = strings.ToUpper(cycle.Ticker)
	if cycle.CycleKey == "" {
		cycle.CycleKey = fmt.Sprintf("%s-%s", cycle.Ticker, cycle.StartedAt.Format("2006-01-02"))
	}
	for i := range m.cycles {
		if m.cycles[i].CycleKey == cycle.CycleKey {
			return fmt.Errorf("cycle key %s: %w", cycle.CycleKey, ErrDuplicateKey)
		}
	}
	if cycle.ID == "" {
		cycle.ID = uuid.NewString()
	}
	m.cycles = append(m.cycles, *cycle)
	return nil
}

func (m *MockStorage) UpdateCycle(cycle *models.WheelCycle) error {
	if cycle == nil {
		return fmt.Errorf("cycle is nil")
	}
	for i := range m.cycles {
		if m.cycles[i].ID == cycle.ID {
			m.cycles[i] = *cycle
			return nil
		}
	}
	return fmt.Errorf("cycle %s: %w", cycle.ID, ErrNotFound)
}

func (m *MockStorage) DeleteCycle(id string) error {
	idx := -1
	for i := range m.cycles {
		if m.cycles[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("cycle %s: %w", id, ErrNotFound)
	}
	m.cycles = append(m.cycles[:idx], m.cycles[idx+1:]...)

	events := m.events[:0]
	for _, e := range m.events {
		if e.CycleID != id {
			events = append(events, e)
		}
	}
	m.events = events

	lotIDs := make(map[string]bool)
	lots := m.lots[:0]
	for _, l := range m.lots {
		if l.CycleID == id {
			lotIDs[l.ID] = true
			delete(m.lotMetrics, l.ID)
			continue
		}
		lots = append(lots, l)
	}
	m.lots = lots

	links := m.lotLinks[:0]
	for _, ln := range m.lotLinks {
		if !lotIDs[ln.LotID] {
			links = append(links, ln)
		}
	}
	m.lotLinks = links
	return nil
}

// Event management methods

func (m *MockStorage) ListEvents(cycleID string) ([]models.WheelEvent, error) {
	out := make([]models.WheelEvent, 0)
	for _, e := range m.events {
		if e.CycleID == cycleID {
			out = append(out, e)
		}
	}
	models.SortEvents(out)
	return out, nil
}

func (m *MockStorage) GetEvent(id string) (*models.WheelEvent, error) {
	for i := range m.events {
		if m.events[i].ID == id {
			e := m.events[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
}

func (m *MockStorage) CreateEvent(event *models.WheelEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if !event.EventType.Valid() {
		return fmt.Errorf("invalid event type %q", event.EventType)
	}
	if event.TradeDate.IsZero() {
		return fmt.Errorf("event trade date is required")
	}
	if _, err := m.GetCycle(event.CycleID); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Seq = m.nextSeq
	m.nextSeq++
	m.events = append(m.events, *event)
	return nil
}

func (m *MockStorage) UpdateEventLink(eventID, linkEventID string) error {
	for i := range m.events {
		if m.events[i].ID == eventID {
			m.events[i].LinkEventID = linkEventID
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
}

// Lot management methods

func (m *MockStorage) ListLots(filter LotFilter) ([]models.Lot, error) {
	out := make([]models.Lot, 0)
	for _, l := range m.lots {
		if filter.CycleID != "" && l.CycleID != filter.CycleID {
			continue
		}
		if filter.Ticker != "" && !strings.EqualFold(l.Ticker, filter.Ticker) {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.Covered != nil && l.Covered() != *filter.Covered {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AcquisitionDate.Equal(out[j].AcquisitionDate) {
			return out[i].AcquisitionDate.Before(out[j].AcquisitionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockStorage) GetLot(id string) (*models.Lot, error) {
	for i := range m.lots {
		if m.lots[i].ID == id {
			l := m.lots[i]
			return &l, nil
		}
	}
	return nil, fmt.Errorf("lot %s: %w", id, ErrNotFound)
}

func (m *MockStorage) UpdateLot(lot *models.Lot) error {
	if lot == nil {
		return fmt.Errorf("lot is nil")
	}
	for i := range m.lots {
		if m.lots[i].ID == lot.ID {
			m.lots[i] = *lot
			return nil
		}
	}
	return fmt.Errorf("lot %s: %w", lot.ID, ErrNotFound)
}

func (m *MockStorage) ListLotLinks(lotID string) ([]models.LotLink, error) {
	out := make([]models.LotLink, 0)
	for _, ln := range m.lotLinks {
		if ln.LotID == lotID {
			out = append(out, ln)
		}
	}
	return out, nil
}

func (m *MockStorage) CreateLotLink(link *models.LotLink) error {
	if link == nil {
		return fmt.Errorf("link is nil")
	}
	if _, err := m.GetLot(link.LotID); err != nil {
		return err
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	m.lotLinks = append(m.lotLinks, *link)
	return nil
}

func (m *MockStorage) DeleteLotLink(id string) error {
	for i := range m.lotLinks {
		if m.lotLinks[i].ID == id {
			m.lotLinks = append(m.lotLinks[:i], m.lotLinks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("lot link %s: %w", id, ErrNotFound)
}

func (m *MockStorage) ReplaceLots(cycleID string, lots []models.Lot, links []models.LotLink) error {
	oldIDs := make(map[string]bool)
	kept := m.lots[:0]
	for _, l := range m.lots {
		if l.CycleID == cycleID {
			oldIDs[l.ID] = true
			continue
		}
		kept = append(kept, l)
	}
	m.lots = append(kept, lots...)

	keptLinks := m.lotLinks[:0]
	for _, ln := range m.lotLinks {
		if !oldIDs[ln.LotID] {
			keptLinks = append(keptLinks, ln)
		}
	}
	m.lotLinks = append(keptLinks, links...)

	newIDs := make(map[string]bool, len(lots))
	for _, l := range lots {
		newIDs[l.ID] = true
	}
	for id := range oldIDs {
		if !newIDs[id] {
			delete(m.lotMetrics, id)
		}
	}
	return nil
}

// Lot metrics cache methods

func (m *MockStorage) SaveLotMetrics(metrics *models.LotMetrics) error {
	if metrics == nil {
		return fmt.Errorf("metrics is nil")
	}
	m.lotMetrics[metrics.LotID] = *metrics
	return nil
}

func (m *MockStorage) GetLotMetrics(lotID string) (*models.LotMetrics, error) {
	mm, ok := m.lotMetrics[lotID]
	if !ok {
		return nil, fmt.Errorf("lot metrics %s: %w", lotID, ErrNotFound)
	}
	return &mm, nil
}

// Data persistence methods (mocked)

func (m *MockStorage) Save() error {
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.loadCallCount++
	return m.loadError
}

// Mock control methods for testing

func (m *MockStorage) SetSaveError(err error) {
	m.saveError = err
}

func (m *MockStorage) SetLoadError(err error) {
	m.loadError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	return m.loadCallCount
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
