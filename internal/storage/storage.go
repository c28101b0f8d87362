package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/wheelhouse/internal/models"
)

// JSONStorage persists all wheel tracking state to a single JSON file.
// Writes go through a temp file and atomic rename so a crash mid-save never
// leaves a truncated store behind.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *storageData
}

type storageData struct {
	Cycles      []models.WheelCycle          `json:"cycles"`
	Events      []models.WheelEvent          `json:"events"`
	Lots        []models.Lot                 `json:"lots"`
	LotLinks    []models.LotLink             `json:"lot_links"`
	LotMetrics  map[string]models.LotMetrics `json:"lot_metrics"`
	NextSeq     int64                        `json:"next_seq"`
	LastUpdated time.Time                    `json:"last_updated"`
}

func newStorageData() *storageData {
	return &storageData{
		LotMetrics: make(map[string]models.LotMetrics),
		NextSeq:    1,
	}
}

// NewJSONStorage creates a JSON-file-backed store, loading existing data if
// the file already exists.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data:     newStorageData(),
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load reads the backing file into memory, replacing any in-memory state.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	loaded := newStorageData()
	if err := json.Unmarshal(raw, loaded); err != nil {
		return err
	}
	if loaded.LotMetrics == nil {
		loaded.LotMetrics = make(map[string]models.LotMetrics)
	}
	if loaded.NextSeq < 1 {
		loaded.NextSeq = 1
	}
	s.data = loaded

	return nil
}

// Save writes the current state to disk.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked assumes s.mu is already held for writing.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// --- cycles ---

func (s *JSONStorage) ListCycles() ([]models.WheelCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.WheelCycle, len(s.data.Cycles))
	copy(out, s.data.Cycles)
	return out, nil
}

func (s *JSONStorage) GetCycle(id string) (*models.WheelCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Cycles {
		if s.data.Cycles[i].ID == id {
			c := s.data.Cycles[i]
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cycle %s: %w", id, ErrNotFound)
}

func (s *JSONStorage) GetCycleByKey(cycleKey string) (*models.WheelCycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Cycles {
		if s.data.Cycles[i].CycleKey == cycleKey {
			c := s.data.Cycles[i]
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cycle key %s: %w", cycleKey, ErrNotFound)
}

func (s *JSONStorage) CreateCycle(cycle *models.WheelCycle) error {
	if cycle == nil {
		return fmt.Errorf("cycle is nil")
	}
	if cycle.Ticker == "" {
		return fmt.Errorf("cycle ticker is required")
	}
	if !cycle.Status.Valid() {
		return fmt.Errorf("invalid cycle status %q", cycle.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cycle.Ticker = strings.ToUpper(cycle.Ticker)
	if cycle.CycleKey == "" {
		cycle.CycleKey = fmt.Sprintf("%s-%s", cycle.Ticker, cycle.StartedAt.Format("2006-01-02"))
	}
	for i := range s.data.Cycles {
		if s.data.Cycles[i].CycleKey == cycle.CycleKey {
			return fmt.Errorf("cycle key %s: %w", cycle.CycleKey, ErrDuplicateKey)
		}
	}
	if cycle.ID == "" {
		cycle.ID = uuid.NewString()
	}

	s.data.Cycles = append(s.data.Cycles, *cycle)
	return s.saveLocked()
}

func (s *JSONStorage) UpdateCycle(cycle *models.WheelCycle) error {
	if cycle == nil {
		return fmt.Errorf("cycle is nil")
	}
	if !cycle.Status.Valid() {
		return fmt.Errorf("invalid cycle status %q", cycle.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Cycles {
		if s.data.Cycles[i].ID == cycle.ID {
			s.data.Cycles[i] = *cycle
			return s.saveLocked()
		}
	}
	return fmt.Errorf("cycle %s: %w", cycle.ID, ErrNotFound)
}

func (s *JSONStorage) DeleteCycle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.data.Cycles {
		if s.data.Cycles[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("cycle %s: %w", id, ErrNotFound)
	}
	s.data.Cycles = append(s.data.Cycles[:idx], s.data.Cycles[idx+1:]...)

	// Purge everything recorded against the cycle.
	events := s.data.Events[:0]
	for _, e := range s.data.Events {
		if e.CycleID != id {
			events = append(events, e)
		}
	}
	s.data.Events = events

	lotIDs := make(map[string]bool)
	lots := s.data.Lots[:0]
	for _, l := range s.data.Lots {
		if l.CycleID == id {
			lotIDs[l.ID] = true
			delete(s.data.LotMetrics, l.ID)
			continue
		}
		lots = append(lots, l)
	}
	s.data.Lots = lots

	links := s.data.LotLinks[:0]
	for _, ln := range s.data.LotLinks {
		if !lotIDs[ln.LotID] {
			links = append(links, ln)
		}
	}
	s.data.LotLinks = links

	return s.saveLocked()
}

// --- events ---

func (s *JSONStorage) ListEvents(cycleID string) ([]models.WheelEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.WheelEvent, 0)
	for _, e := range s.data.Events {
		if e.CycleID == cycleID {
			out = append(out, e)
		}
	}
	models.SortEvents(out)
	return out, nil
}

func (s *JSONStorage) GetEvent(id string) (*models.WheelEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Events {
		if s.data.Events[i].ID == id {
			e := s.data.Events[i]
			return &e, nil
		}
	}
	return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
}

func (s *JSONStorage) CreateEvent(event *models.WheelEvent) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	if !event.EventType.Valid() {
		return fmt.Errorf("invalid event type %q", event.EventType)
	}
	if event.TradeDate.IsZero() {
		return fmt.Errorf("event trade date is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.data.Cycles {
		if s.data.Cycles[i].ID == event.CycleID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("cycle %s: %w", event.CycleID, ErrNotFound)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Seq = s.data.NextSeq
	s.data.NextSeq++

	s.data.Events = append(s.data.Events, *event)
	return s.saveLocked()
}

func (s *JSONStorage) UpdateEventLink(eventID, linkEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Events {
		if s.data.Events[i].ID == eventID {
			s.data.Events[i].LinkEventID = linkEventID
			return s.saveLocked()
		}
	}
	return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
}

// --- lots ---

func (s *JSONStorage) ListLots(filter LotFilter) ([]models.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Lot, 0)
	for _, l := range s.data.Lots {
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

func (s *JSONStorage) GetLot(id string) (*models.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Lots {
		if s.data.Lots[i].ID == id {
			l := s.data.Lots[i]
			return &l, nil
		}
	}
	return nil, fmt.Errorf("lot %s: %w", id, ErrNotFound)
}

func (s *JSONStorage) UpdateLot(lot *models.Lot) error {
	if lot == nil {
		return fmt.Errorf("lot is nil")
	}
	if !lot.Status.Valid() {
		return fmt.Errorf("invalid lot status %q", lot.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Lots {
		if s.data.Lots[i].ID == lot.ID {
			s.data.Lots[i] = *lot
			return s.saveLocked()
		}
	}
	return fmt.Errorf("lot %s: %w", lot.ID, ErrNotFound)
}

func (s *JSONStorage) ListLotLinks(lotID string) ([]models.LotLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LotLink, 0)
	for _, ln := range s.data.LotLinks {
		if ln.LotID == lotID {
			out = append(out, ln)
		}
	}
	return out, nil
}

func (s *JSONStorage) CreateLotLink(link *models.LotLink) error {
	if link == nil {
		return fmt.Errorf("link is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.data.Lots {
		if s.data.Lots[i].ID == link.LotID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("lot %s: %w", link.LotID, ErrNotFound)
	}
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	s.data.LotLinks = append(s.data.LotLinks, *link)
	return s.saveLocked()
}

func (s *JSONStorage) DeleteLotLink(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.LotLinks {
		if s.data.LotLinks[i].ID == id {
			s.data.LotLinks = append(s.data.LotLinks[:i], s.data.LotLinks[i+1:]...)
			return s.saveLocked()
		}
	}
	return fmt.Errorf("lot link %s: %w", id, ErrNotFound)
}

func (s *JSONStorage) ReplaceLots(cycleID string, lots []models.Lot, links []models.LotLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldIDs := make(map[string]bool)
	kept := s.data.Lots[:0]
	for _, l := range s.data.Lots {
		if l.CycleID == cycleID {
			oldIDs[l.ID] = true
			continue
		}
		kept = append(kept, l)
	}
	s.data.Lots = append(kept, lots...)

	keptLinks := s.data.LotLinks[:0]
	for _, ln := range s.data.LotLinks {
		if !oldIDs[ln.LotID] {
			keptLinks = append(keptLinks, ln)
		}
	}
	s.data.LotLinks = append(keptLinks, links...)

	// Drop cached metrics for lots that no longer exist.
	newIDs := make(map[string]bool, len(lots))
	for _, l := range lots {
		newIDs[l.ID] = true
	}
	for id := range oldIDs {
		if !newIDs[id] {
			delete(s.data.LotMetrics, id)
		}
	}

	return s.saveLocked()
}

// --- lot metrics cache ---

func (s *JSONStorage) SaveLotMetrics(m *models.LotMetrics) error {
	if m == nil {
		return fmt.Errorf("metrics is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.LotMetrics[m.LotID] = *m
	return s.saveLocked()
}

func (s *JSONStorage) GetLotMetrics(lotID string) (*models.LotMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data.LotMetrics[lotID]
	if !ok {
		return nil, fmt.Errorf("lot metrics %s: %w", lotID, ErrNotFound)
	}
	return &m, nil
}
