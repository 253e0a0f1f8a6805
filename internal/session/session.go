// Package session holds the in-memory per-device state: the active
// session, its parameter snapshot, and the rolling ECG buffer the
// estimator runs over.
package session

import (
	"sync"

	"github.com/serenalabs/breath-engine/internal/model"
)

// ecgBlock is one ingest block of raw samples with its arrival
// timestamp.
type ecgBlock struct {
	samples []int16
	ts      int64
}

// DeviceSession is the live state of a single device. All accessors are
// safe for concurrent use; LockProcessing serializes full derivation
// runs so concurrent ingests never estimate over the same buffer twice.
type DeviceSession struct {
	DeviceID string

	procMu sync.Mutex

	mu          sync.RWMutex
	active      *model.Session
	params      model.ParameterSet
	cycle       model.BreathCycle
	blocks      []ecgBlock
	sampleCount int
}

// NewDeviceSession returns an empty device slot with default
// parameters.
func NewDeviceSession(deviceID string) *DeviceSession {
	return &DeviceSession{
		DeviceID: deviceID,
		params:   model.DefaultParameters(),
	}
}

// LockProcessing acquires the derivation lock and returns its release
// func.
func (d *DeviceSession) LockProcessing() func() {
	d.procMu.Lock()
	return d.procMu.Unlock
}

// TryLockProcessing acquires the derivation lock without blocking. A
// false return means a derivation is already running; the next ECG
// block will trigger a fresh attempt.
func (d *DeviceSession) TryLockProcessing() (func(), bool) {
	if d.procMu.TryLock() {
		return d.procMu.Unlock, true
	}
	return nil, false
}

// AppendECG adds one block to the rolling buffer, evicting the oldest
// blocks beyond the configured buffer size. Returns the block count
// after the append.
func (d *DeviceSession) AppendECG(samples []int16, ts int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	own := make([]int16, len(samples))
	copy(own, samples)
	d.blocks = append(d.blocks, ecgBlock{samples: own, ts: ts})
	d.sampleCount += len(own)

	d.resizeLocked(d.params.BufferSize)
	return len(d.blocks)
}

// resizeLocked evicts the oldest blocks beyond max. Caller holds mu.
func (d *DeviceSession) resizeLocked(max int) {
	if max < 1 {
		max = model.DefaultParameters().BufferSize
	}
	for len(d.blocks) > max {
		d.sampleCount -= len(d.blocks[0].samples)
		d.blocks = d.blocks[1:]
	}
}

// BlockCount returns the number of buffered ECG blocks.
func (d *DeviceSession) BlockCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.blocks)
}

// SnapshotECG flattens the buffer into one contiguous sample slice plus
// the per-block sizes and timestamps the estimator needs for its time
// axis.
func (d *DeviceSession) SnapshotECG() (samples []int16, sizes []int, ts []int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	samples = make([]int16, 0, d.sampleCount)
	sizes = make([]int, 0, len(d.blocks))
	ts = make([]int64, 0, len(d.blocks))
	for _, b := range d.blocks {
		samples = append(samples, b.samples...)
		sizes = append(sizes, len(b.samples))
		ts = append(ts, b.ts)
	}
	return samples, sizes, ts
}

// ClearECG drops the buffered signal, typically on session end.
func (d *DeviceSession) ClearECG() {
	d.mu.Lock()
	d.blocks = nil
	d.sampleCount = 0
	d.mu.Unlock()
}

// StartSession binds a freshly created session with its parameter
// snapshot and breath cycle.
func (d *DeviceSession) StartSession(sess model.Session, params model.ParameterSet, cycle model.BreathCycle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := sess
	d.active = &s
	d.params = params
	d.cycle = cycle

	d.resizeLocked(params.BufferSize)
}

// ActivateParams swaps the parameter snapshot, resizing the ECG ring
// to the new buffer size while keeping the newest blocks. The active
// session's param version follows the swap.
func (d *DeviceSession) ActivateParams(version string, params model.ParameterSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = params
	if d.active != nil && version != "" {
		d.active.ParamVersion = version
	}
	d.resizeLocked(params.BufferSize)
}

// ResetParams restores the built-in default parameters.
func (d *DeviceSession) ResetParams() {
	d.ActivateParams(model.DefaultParamVersion, model.DefaultParameters())
}

// UpdateTarget changes the target rate mid-session, e.g. when the app
// switches techniques without ending the session.
func (d *DeviceSession) UpdateTarget(targetRR float64, technique string, cycle model.BreathCycle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return
	}
	d.active.TargetRR = targetRR
	d.active.TechniqueName = technique
	d.cycle = cycle
}

// EndSession detaches the active session and clears the buffer,
// returning the ended session's id ("" when none was active).
func (d *DeviceSession) EndSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return ""
	}
	id := d.active.SessionID
	d.active = nil
	d.blocks = nil
	d.sampleCount = 0
	return id
}

// Session returns a copy of the active session, if any.
func (d *DeviceSession) Session() (model.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.active == nil {
		return model.Session{}, false
	}
	return *d.active, true
}

// Params returns the parameter snapshot for this device.
func (d *DeviceSession) Params() model.ParameterSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.params
}

// Cycle returns the breath-cycle phases of the active technique.
func (d *DeviceSession) Cycle() model.BreathCycle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cycle
}

// Watermark returns the timestamp below which derived records were
// already emitted.
func (d *DeviceSession) Watermark() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.active == nil {
		return 0
	}
	return d.active.LastEmittedTS
}

// AdvanceWatermark raises the emitted-up-to timestamp; it never moves
// backwards.
func (d *DeviceSession) AdvanceWatermark(ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active != nil && ts > d.active.LastEmittedTS {
		d.active.LastEmittedTS = ts
	}
}

// Registry lazily creates and hands out device slots.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*DeviceSession
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*DeviceSession)}
}

// Get returns the slot for deviceID, creating it on first use.
func (r *Registry) Get(deviceID string) *DeviceSession {
	r.mu.RLock()
	d := r.devices[deviceID]
	r.mu.RUnlock()
	if d != nil {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d = r.devices[deviceID]; d == nil {
		d = NewDeviceSession(deviceID)
		r.devices[deviceID] = d
	}
	return d
}

// ActiveCount returns the number of devices with an active session.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.devices {
		if _, ok := d.Session(); ok {
			n++
		}
	}
	return n
}

// All returns a snapshot of every known device slot.
func (r *Registry) All() []*DeviceSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DeviceSession, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}
