// Package presence tracks the live connectivity, availability and location
// state of every driver. The registry is the single source of truth for this
// state: other components query it live instead of retaining copies.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"dispatch/internal/domain"
)

var (
	// ErrUnknownDriver is returned when an operation references a driver that
	// was never registered. The registry runs in strict mode: location updates
	// do not auto-register.
	ErrUnknownDriver = errors.New("unknown driver")
)

// Mirror receives accepted location updates so that last known positions can
// be observed outside the process (and rebuilt after a restart). Mirroring is
// best-effort and never blocks a registry write.
type Mirror interface {
	UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error
	RemoveLocation(ctx context.Context, driverID string) error
}

// record is the registry-owned mutable state for one driver. Each record is
// updated atomically as a whole under its own mutex.
type record struct {
	mu       sync.Mutex
	presence domain.DriverPresence
}

// Registry is a concurrency-safe in-memory presence store.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*record
	mirror  Mirror
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*record)}
}

// SetMirror attaches a write-through location mirror. Must be called before
// the registry receives traffic.
func (r *Registry) SetMirror(m Mirror) { r.mirror = m }

// Register creates a presence record for the driver if one does not already
// exist. Calling it twice is equivalent to calling it once.
func (r *Registry) Register(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[driverID]; ok {
		return
	}
	r.records[driverID] = &record{
		presence: domain.DriverPresence{DriverID: driverID},
	}
}

// UpdateLocation applies a location report. Updates are last-writer-wins by
// report timestamp, not arrival order: a report older than the stored one is
// a no-op and returns applied=false, which tolerates out-of-order delivery.
// An accepted update marks the driver available (a location report implies
// the driver is online).
func (r *Registry) UpdateLocation(ctx context.Context, driverID string, coord domain.Coordinate, ts time.Time) (applied bool, err error) {
	rec, ok := r.lookup(driverID)
	if !ok {
		return false, ErrUnknownDriver
	}

	rec.mu.Lock()
	if rec.presence.HasLocation && ts.Before(rec.presence.LastUpdatedAt) {
		rec.mu.Unlock()
		return false, nil
	}
	rec.presence.Coordinate = coord
	rec.presence.HasLocation = true
	rec.presence.Available = true
	rec.presence.LastUpdatedAt = ts
	rec.mu.Unlock()

	if r.mirror != nil {
		// Outside the record lock: the mirror may touch the network.
		_ = r.mirror.UpdateLocation(ctx, driverID, coord.Lat, coord.Lng)
	}
	return true, nil
}

// SetConnection marks the driver as having a live push connection.
func (r *Registry) SetConnection(driverID string) error {
	rec, ok := r.lookup(driverID)
	if !ok {
		return ErrUnknownDriver
	}
	rec.mu.Lock()
	rec.presence.Connected = true
	rec.mu.Unlock()
	return nil
}

// ClearConnection drops the push connection and marks the driver unavailable.
func (r *Registry) ClearConnection(ctx context.Context, driverID string) error {
	rec, ok := r.lookup(driverID)
	if !ok {
		return ErrUnknownDriver
	}
	rec.mu.Lock()
	rec.presence.Connected = false
	rec.presence.Available = false
	rec.mu.Unlock()

	if r.mirror != nil {
		_ = r.mirror.RemoveLocation(ctx, driverID)
	}
	return nil
}

// Claim atomically marks the driver busy if they are currently a candidate
// (available and not busy). This is the double-booking guard: a claimed
// driver is never offered another ride until Release.
func (r *Registry) Claim(driverID string) bool {
	rec, ok := r.lookup(driverID)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.presence.Available || rec.presence.Busy {
		return false
	}
	rec.presence.Busy = true
	return true
}

// Release clears the busy flag set by Claim. Safe to call on an unclaimed or
// unknown driver.
func (r *Registry) Release(driverID string) {
	rec, ok := r.lookup(driverID)
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.presence.Busy = false
	rec.mu.Unlock()
}

// Snapshot returns a copy of the driver's presence record.
func (r *Registry) Snapshot(driverID string) (domain.DriverPresence, error) {
	rec, ok := r.lookup(driverID)
	if !ok {
		return domain.DriverPresence{}, ErrUnknownDriver
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.presence, nil
}

// AllAvailable returns a point-in-time copy of every available, non-busy
// presence record, ordered by driver ID. Callers get whole-record copies;
// concurrent mutation never yields a half-written record.
func (r *Registry) AllAvailable() []domain.DriverPresence {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]domain.DriverPresence, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		p := rec.presence
		rec.mu.Unlock()
		if p.Available && !p.Busy {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out
}

func (r *Registry) lookup(driverID string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[driverID]
	return rec, ok
}
