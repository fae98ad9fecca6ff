package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// Stamp orders writes: higher Clock wins, equal clocks fall back to the node
// id so every replica picks the same winner.
type Stamp struct {
	Clock int64  `json:"c"`
	Node  string `json:"n"`
}

// After reports whether s is newer than other
func (s Stamp) After(other Stamp) bool {
	if s.Clock != other.Clock {
		return s.Clock > other.Clock
	}
	return s.Node > other.Node
}

// LamportClock hands out stamps for one replica
type LamportClock struct {
	counter int64
	nodeID  string
	mu      sync.Mutex
}

// NewLamportClock creates a clock with a random node id
func NewLamportClock() *LamportClock {
	return NewLamportClockWithNodeID(uuid.NewString())
}

func NewLamportClockWithNodeID(nodeID string) *LamportClock {
	return &LamportClock{nodeID: nodeID}
}

// Tick advances the clock for a local write
func (lc *LamportClock) Tick() Stamp {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return Stamp{Clock: lc.counter, Node: lc.nodeID}
}

// Observe folds in a remote clock value: counter = max(counter, remote)
func (lc *LamportClock) Observe(remote int64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remote > lc.counter {
		lc.counter = remote
	}
}

func (lc *LamportClock) Now() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}

func (lc *LamportClock) NodeID() string {
	return lc.nodeID
}
