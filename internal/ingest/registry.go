package ingest

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/coldwatch-core/internal/telemetry"
)

// DeviceRecord is what the gateway knows about a submitting device.
type DeviceRecord struct {
	DeviceID   string    `json:"device_id"`
	Addr       string    `json:"addr,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Chunks     int64     `json:"chunks"`

	// LastSensors is the most recent structured reading. Audio chunks
	// borrow its non-audio channels.
	LastSensors *telemetry.Reading `json:"last_sensors,omitempty"`
}

// Registry tracks devices that have submitted data.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*DeviceRecord
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*DeviceRecord),
		now:     time.Now,
	}
}

// RegisterDevice adds a device or refreshes its address and sample rate.
// Empty addr or zero sampleRate leave the existing values.
func (r *Registry) RegisterDevice(deviceID, addr string, sampleRate int) DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.entry(deviceID)
	if addr != "" {
		rec.Addr = addr
	}
	if sampleRate > 0 {
		rec.SampleRate = sampleRate
	}
	return copyRecord(rec)
}

// observe records a submission. Caller must have validated deviceID.
func (r *Registry) observe(deviceID string, sampleRate int, reading *telemetry.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.entry(deviceID)
	rec.LastSeen = r.now()
	rec.Chunks++
	if sampleRate > 0 {
		rec.SampleRate = sampleRate
	}
	if reading != nil {
		if rec.LastSensors == nil || !reading.Timestamp.Before(rec.LastSensors.Timestamp) {
			cp := *reading
			rec.LastSensors = &cp
		}
	}
}

// entry returns the record for id, creating it. Caller holds mu.
func (r *Registry) entry(id string) *DeviceRecord {
	rec, ok := r.devices[id]
	if !ok {
		now := r.now()
		rec = &DeviceRecord{DeviceID: id, FirstSeen: now, LastSeen: now}
		r.devices[id] = rec
	}
	return rec
}

// lastSensors returns the device's most recent structured reading.
func (r *Registry) lastSensors(deviceID string) (telemetry.Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[deviceID]
	if !ok || rec.LastSensors == nil {
		return telemetry.Reading{}, false
	}
	return *rec.LastSensors, true
}

// Get returns a copy of one record.
func (r *Registry) Get(deviceID string) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.devices[deviceID]
	if !ok {
		return DeviceRecord{}, false
	}
	return copyRecord(rec), true
}

// Devices returns copies of all records ordered by device ID.
func (r *Registry) Devices() []DeviceRecord {
	r.mu.RLock()
	out := make([]DeviceRecord, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, copyRecord(rec))
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b DeviceRecord) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Cleanup evicts devices not seen within timeout and returns how many
// were removed.
func (r *Registry) Cleanup(timeout time.Duration) int {
	cutoff := r.now().Add(-timeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.devices {
		if rec.LastSeen.Before(cutoff) {
			delete(r.devices, id)
			removed++
		}
	}
	return removed
}

func copyRecord(rec *DeviceRecord) DeviceRecord {
	cp := *rec
	if rec.LastSensors != nil {
		s := *rec.LastSensors
		cp.LastSensors = &s
	}
	return cp
}
