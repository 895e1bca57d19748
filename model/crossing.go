package model

import (
	"fmt"
	"math"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CROSSING MATRIX - How often the contract price crosses each 4¢ level
// ═══════════════════════════════════════════════════════════════════════════════
//
// For every (time, delta) state the matrix stores the mean number of times
// historical trajectories crossed 4¢, 8¢, ... 100¢ before the window closed.
// P(reach level) is approximated as 1 - e^(-avg crossings).
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PriceLevels     = 25
	LevelStep       = 0.04
	MinTrajectories = 30
)

// LevelPrice converts a level index to a contract price (0.04 .. 1.00)
func LevelPrice(level int) float64 {
	return float64(level+1) * LevelStep
}

// CrossingState is the crossing profile for one (time, delta) state.
type CrossingState struct {
	TimeBucket   int                  `json:"time_bucket"`
	DeltaBucket  int                  `json:"delta_bucket"`
	Trajectories int                  `json:"count_trajectories"`
	AvgCrossings [PriceLevels]float64 `json:"avg_crossings"`
}

// PReach is the Poisson probability of touching a level at least once.
func (s CrossingState) PReach(level int) float64 {
	if level < 0 || level >= PriceLevels {
		return 0
	}
	return 1 - math.Exp(-s.AvgCrossings[level])
}

// Sufficient reports whether enough trajectories back this state
func (s CrossingState) Sufficient() bool {
	return s.Trajectories >= MinTrajectories
}

// CrossingMatrix is the dense crossing model, same shape as Matrix.
type CrossingMatrix struct {
	States            [][]CrossingState `json:"states"`
	TotalTrajectories int               `json:"total_trajectories"`
	DataStart         *time.Time        `json:"data_start"`
	DataEnd           *time.Time        `json:"data_end"`
}

// NewCrossingMatrix returns an empty crossing matrix
func NewCrossingMatrix() *CrossingMatrix {
	m := &CrossingMatrix{States: make([][]CrossingState, TimeBuckets)}
	for t := 0; t < TimeBuckets; t++ {
		row := make([]CrossingState, DeltaBuckets)
		for i := range row {
			row[i] = CrossingState{TimeBucket: t, DeltaBucket: DeltaBucketMin + i}
		}
		m.States[t] = row
	}
	return m
}

// Lookup clamps like Matrix.Lookup
func (m *CrossingMatrix) Lookup(timeBucket, deltaBucket int) CrossingState {
	t := clampTime(timeBucket)
	d := clampDelta(deltaBucket)
	return m.States[t][d-DeltaBucketMin]
}

// Set replaces one state; used when assembling a matrix in code
func (m *CrossingMatrix) Set(s CrossingState) {
	t := clampTime(s.TimeBucket)
	d := clampDelta(s.DeltaBucket)
	s.TimeBucket, s.DeltaBucket = t, d
	m.States[t][d-DeltaBucketMin] = s
}

// Validate checks shape and that averages are finite and non-negative
func (m *CrossingMatrix) Validate() error {
	if len(m.States) != TimeBuckets {
		return fmt.Errorf("%w: crossing matrix has %d time buckets", ErrInvalidMatrix, len(m.States))
	}
	for t, row := range m.States {
		if len(row) != DeltaBuckets {
			return fmt.Errorf("%w: crossing row %d has %d delta buckets", ErrInvalidMatrix, t, len(row))
		}
		for i, s := range row {
			for _, avg := range s.AvgCrossings {
				if avg < 0 || math.IsNaN(avg) || math.IsInf(avg, 0) {
					return fmt.Errorf("%w: bad crossing average at [%d][%d]", ErrInvalidMatrix, t, i)
				}
			}
		}
	}
	return nil
}
