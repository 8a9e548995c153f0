package memory

import "github.com/MrEthical07/authcore/internal/rate"

// Counters is a single-process authcore.CounterStore. Call Sweep
// periodically to drop finished windows.
type Counters struct {
	*rate.MemoryCounterStore
}

func NewCounters() *Counters {
	return &Counters{MemoryCounterStore: rate.NewMemoryCounterStore()}
}
