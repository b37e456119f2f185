package worker

import (
	"sync/atomic"
	"time"
)

// StateReader is the read-only view of State served by the health endpoints.
type StateReader interface {
	Ready() bool
	Live() bool
	Snapshot() Snapshot
}

// State records which background loops completed their first pass.
type State struct {
	started           time.Time
	scoreCacheReady   atomic.Bool
	containersScanned atomic.Bool
	lastPass          atomic.Int64
}

func NewState() *State {
	return &State{started: time.Now()}
}

func (s *State) MarkScoreCacheReady() { s.scoreCacheReady.Store(true) }

func (s *State) MarkContainersScanned(at time.Time) {
	s.containersScanned.Store(true)
	s.lastPass.Store(at.Unix())
}

// Ready reports whether scores can be served.
func (s *State) Ready() bool { return s.scoreCacheReady.Load() }

// Live reports whether every background loop completed a pass.
func (s *State) Live() bool {
	return s.scoreCacheReady.Load() && s.containersScanned.Load()
}

type Snapshot struct {
	StartedAt         time.Time  `json:"startedAt"`
	ScoreCacheReady   bool       `json:"scoreCacheReady"`
	ContainersScanned bool       `json:"containersScanned"`
	LastPass          *time.Time `json:"lastPass,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		StartedAt:         s.started.UTC(),
		ScoreCacheReady:   s.scoreCacheReady.Load(),
		ContainersScanned: s.containersScanned.Load(),
	}
	if ts := s.lastPass.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		snap.LastPass = &t
	}
	return snap
}
