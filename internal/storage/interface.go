package storage

import (
	"github.com/eddiefleurent/wheelhouse/internal/models"
)

// LotFilter narrows ListLots queries. Zero-valued fields match everything.
type LotFilter struct {
	CycleID string
	Ticker  string
	Status  models.LotStatus
	Covered *bool
}

// Interface defines the contract for wheel cycle, event, and lot persistence.
//
// Implementations must be safe for concurrent use - callers can assume all methods
// are goroutine-safe and can safely call these methods from multiple goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize access,
// ensuring all Interface methods are protected for concurrent readers and writers.
// Rebuild exclusivity (no two lot rebuilds for the same cycle at once) is the
// caller's responsibility, not this layer's.
type Interface interface {
	// Cycle management
	ListCycles() ([]models.WheelCycle, error)
	GetCycle(id string) (*models.WheelCycle, error)
	GetCycleByKey(cycleKey string) (*models.WheelCycle, error)
	CreateCycle(cycle *models.WheelCycle) error
	UpdateCycle(cycle *models.WheelCycle) error
	// DeleteCycle purges the cycle and everything recorded against it.
	DeleteCycle(id string) error

	// Event management. ListEvents returns events ordered by (TradeDate, Seq)
	// ascending; Seq is assigned on create and preserves insertion order for
	// same-day ties.
	ListEvents(cycleID string) ([]models.WheelEvent, error)
	GetEvent(id string) (*models.WheelEvent, error)
	CreateEvent(event *models.WheelEvent) error
	// UpdateEventLink backfills the open event a close event resolves;
	// events are otherwise immutable once recorded.
	UpdateEventLink(eventID, linkEventID string) error

	// Lot management
	ListLots(filter LotFilter) ([]models.Lot, error)
	GetLot(id string) (*models.Lot, error)
	UpdateLot(lot *models.Lot) error
	ListLotLinks(lotID string) ([]models.LotLink, error)
	CreateLotLink(link *models.LotLink) error
	DeleteLotLink(id string) error
	// ReplaceLots atomically swaps all lots and links for a cycle with the
	// rebuilt set.
	ReplaceLots(cycleID string, lots []models.Lot, links []models.LotLink) error

	// Derived metrics cache
	SaveLotMetrics(m *models.LotMetrics) error
	GetLotMetrics(lotID string) (*models.LotMetrics, error)

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based)
// In the future, this can be extended to support different storage backends
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
