package ml

import (
	"sync/atomic"
	"time"
)

// Baseline is one trained behavioral model. It is never mutated after
// construction; retraining builds a new Baseline.
type Baseline struct {
	Forest    *IsolationForest
	Samples   int
	TrainedAt time.Time
}

// BaselineHandle owns the current Baseline. Swapping is atomic so a scorer
// sees either the previous model or the new one, never a mix.
type BaselineHandle struct {
	current atomic.Pointer[Baseline]
	version atomic.Uint64
}

// NewBaselineHandle returns an empty handle.
func NewBaselineHandle() *BaselineHandle {
	return &BaselineHandle{}
}

// Load returns the current baseline or nil when none has been trained.
func (h *BaselineHandle) Load() *Baseline {
	return h.current.Load()
}

// Swap installs b and returns the new version number.
func (h *BaselineHandle) Swap(b *Baseline) uint64 {
	h.current.Store(b)
	return h.version.Add(1)
}

// Version increments on every Swap; zero means never trained.
func (h *BaselineHandle) Version() uint64 {
	return h.version.Load()
}
