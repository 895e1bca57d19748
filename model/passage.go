package model

import (
	"fmt"
	"time"

	"github.com/web3guy0/windowbot/types"
)

// PassageCell is P(reach a target delta bucket) from a given state.
type PassageCell struct {
	Reached    int        `json:"count_reached"`
	Total      int        `json:"count_total"`
	PReach     float64    `json:"p_reach"`
	Lower      float64    `json:"p_reach_wilson_lower"`
	Upper      float64    `json:"p_reach_wilson_upper"`
	Confidence Confidence `json:"confidence_level"`
}

// PassageState holds first-passage statistics towards every delta bucket.
type PassageState struct {
	TimeBucket  int           `json:"time_bucket"`
	DeltaBucket int           `json:"price_delta_bucket"`
	UpTargets   []PassageCell `json:"up_targets"`
	DownTargets []PassageCell `json:"down_targets"`
}

// Target returns the passage cell for reaching target bucket in dir.
func (s PassageState) Target(dir types.Direction, target int) PassageCell {
	cells := s.UpTargets
	if dir == types.Down {
		cells = s.DownTargets
	}
	idx := clampDelta(target) - DeltaBucketMin
	if idx >= len(cells) {
		return PassageCell{}
	}
	return cells[idx]
}

// PassageMatrix is the first-passage model used when no crossing model is loaded.
type PassageMatrix struct {
	States       [][]PassageState `json:"states"`
	Observations int              `json:"total_observations"`
	DataStart    *time.Time       `json:"data_start"`
	DataEnd      *time.Time       `json:"data_end"`
}

// NewPassageMatrix returns an empty first-passage matrix
func NewPassageMatrix() *PassageMatrix {
	m := &PassageMatrix{States: make([][]PassageState, TimeBuckets)}
	for t := 0; t < TimeBuckets; t++ {
		row := make([]PassageState, DeltaBuckets)
		for i := range row {
			row[i] = PassageState{
				TimeBucket:  t,
				DeltaBucket: DeltaBucketMin + i,
				UpTargets:   make([]PassageCell, DeltaBuckets),
				DownTargets: make([]PassageCell, DeltaBuckets),
			}
		}
		m.States[t] = row
	}
	return m
}

// Lookup clamps like Matrix.Lookup
func (m *PassageMatrix) Lookup(timeBucket, deltaBucket int) PassageState {
	t := clampTime(timeBucket)
	d := clampDelta(deltaBucket)
	return m.States[t][d-DeltaBucketMin]
}

// Record adds one observation of whether target was reached from (t, d)
func (m *PassageMatrix) Record(timeBucket, deltaBucket int, dir types.Direction, target int, reached bool) {
	t := clampTime(timeBucket)
	d := clampDelta(deltaBucket)
	state := &m.States[t][d-DeltaBucketMin]
	cells := state.UpTargets
	if dir == types.Down {
		cells = state.DownTargets
	}
	cell := &cells[clampDelta(target)-DeltaBucketMin]
	m.Observations++
	cell.Total++
	if reached {
		cell.Reached++
	}
	cell.PReach = float64(cell.Reached) / float64(cell.Total)
	cell.Lower, cell.Upper = Wilson(cell.Reached, cell.Total)
	cell.Confidence = ConfidenceFromSamples(cell.Total)
}

// Validate checks shape and probability ranges
func (m *PassageMatrix) Validate() error {
	if len(m.States) != TimeBuckets {
		return fmt.Errorf("%w: passage matrix has %d time buckets", ErrInvalidMatrix, len(m.States))
	}
	for t, row := range m.States {
		if len(row) != DeltaBuckets {
			return fmt.Errorf("%w: passage row %d has %d delta buckets", ErrInvalidMatrix, t, len(row))
		}
		for i, s := range row {
			if len(s.UpTargets) != DeltaBuckets || len(s.DownTargets) != DeltaBuckets {
				return fmt.Errorf("%w: passage targets at [%d][%d] incomplete", ErrInvalidMatrix, t, i)
			}
			for _, c := range append(append([]PassageCell(nil), s.UpTargets...), s.DownTargets...) {
				if c.PReach < 0 || c.PReach > 1 {
					return fmt.Errorf("%w: p_reach %.4f out of range at [%d][%d]", ErrInvalidMatrix, c.PReach, t, i)
				}
			}
		}
	}
	return nil
}

// PriceToDeltaBucket maps a contract price to the spot delta bucket at which
// that price is typically quoted. Higher UP prices sit at larger positive
// deltas; DOWN mirrors the mapping.
func PriceToDeltaBucket(price float64, dir types.Direction) int {
	cents := int(price*100 + 1e-9)
	var b int
	switch {
	case cents <= 35:
		b = -11
	case cents <= 40:
		b = -8
	case cents <= 45:
		b = -6
	case cents <= 50:
		b = -1
	case cents <= 55:
		b = 1
	case cents <= 60:
		b = 4
	case cents <= 65:
		b = 6
	case cents <= 70:
		b = 7
	case cents <= 75:
		b = 9
	case cents <= 80:
		b = 10
	case cents <= 85:
		b = 12
	case cents <= 90:
		b = 14
	case cents <= 95:
		b = 15
	default:
		b = 16
	}
	if dir == types.Down {
		return -b
	}
	return b
}
