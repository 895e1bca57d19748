package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/web3guy0/windowbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PROBABILITY MATRIX - P(UP | time bucket, delta bucket)
// ═══════════════════════════════════════════════════════════════════════════════
//
// Built offline from historical windows, loaded once at startup and shared
// read-only for the life of the process. Lookups clamp, they never fail.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrInvalidMatrix is returned when a loaded matrix breaks its invariants
var ErrInvalidMatrix = errors.New("invalid probability matrix")

// Cell holds the observed outcome statistics for one (time, delta) state.
type Cell struct {
	TimeBucket  int        `json:"time_bucket"`
	DeltaBucket int        `json:"price_delta_bucket"`
	CountUp     int        `json:"count_up"`
	CountDown   int        `json:"count_down"`
	PUp         float64    `json:"p_up"`
	PDown       float64    `json:"p_down"`
	PUpLower    float64    `json:"p_up_wilson_lower"`
	PUpUpper    float64    `json:"p_up_wilson_upper"`
	BetaAlpha   float64    `json:"beta_alpha"`
	BetaBeta    float64    `json:"beta_beta"`
	Confidence  Confidence `json:"confidence_level"`
}

// Total is the number of windows observed in this state
func (c Cell) Total() int {
	return c.CountUp + c.CountDown
}

// Conservative returns the interval-adjusted probability that dir wins.
// UP uses the Wilson lower bound; DOWN uses one minus the UP upper bound.
func (c Cell) Conservative(dir types.Direction) float64 {
	if dir == types.Down {
		return 1 - c.PUpUpper
	}
	return c.PUpLower
}

// Point returns the raw point estimate that dir wins
func (c Cell) Point(dir types.Direction) float64 {
	if dir == types.Down {
		return c.PDown
	}
	return c.PUp
}

func newCell(t, d int) Cell {
	return Cell{
		TimeBucket:  t,
		DeltaBucket: d,
		PUp:         0.5,
		PDown:       0.5,
		PUpLower:    0,
		PUpUpper:    1,
		BetaAlpha:   1,
		BetaBeta:    1,
		Confidence:  Unreliable,
	}
}

// finalize recomputes every derived field from the counts
func (c *Cell) finalize() {
	total := c.Total()
	if total == 0 {
		*c = newCell(c.TimeBucket, c.DeltaBucket)
		return
	}
	c.PUp = float64(c.CountUp) / float64(total)
	c.PDown = float64(c.CountDown) / float64(total)
	c.PUpLower, c.PUpUpper = Wilson(c.CountUp, total)
	c.BetaAlpha, c.BetaBeta = BetaPosterior(c.CountUp, c.CountDown, 1, 1)
	c.Confidence = ConfidenceFromSamples(total)
}

// Matrix is the dense TimeBuckets x DeltaBuckets model.
type Matrix struct {
	// Cells is indexed [time][delta-DeltaBucketMin]
	Cells        [][]Cell   `json:"cells"`
	TotalWindows int        `json:"total_windows"`
	DataStart    *time.Time `json:"data_start"`
	DataEnd      *time.Time `json:"data_end"`
}

// NewMatrix returns an empty matrix with every cell at its uninformative prior.
func NewMatrix() *Matrix {
	m := &Matrix{Cells: make([][]Cell, TimeBuckets)}
	for t := 0; t < TimeBuckets; t++ {
		row := make([]Cell, DeltaBuckets)
		for i := range row {
			row[i] = newCell(t, DeltaBucketMin+i)
		}
		m.Cells[t] = row
	}
	return m
}

// Lookup returns the cell for the given buckets, clamping out-of-range indices.
func (m *Matrix) Lookup(timeBucket, deltaBucket int) Cell {
	t := clampTime(timeBucket)
	d := clampDelta(deltaBucket)
	return m.Cells[t][d-DeltaBucketMin]
}

// At resolves raw elapsed seconds and spot delta to a cell
func (m *Matrix) At(elapsed int, delta float64) Cell {
	return m.Lookup(TimeBucket(elapsed), DeltaBucket(delta))
}

// Record adds one observation. Call Finalize once all observations are in.
func (m *Matrix) Record(timeBucket int, delta float64, outcome types.Outcome) {
	t := clampTime(timeBucket)
	d := DeltaBucket(delta)
	cell := &m.Cells[t][d-DeltaBucketMin]
	if outcome == types.Up {
		cell.CountUp++
	} else {
		cell.CountDown++
	}
}

// Finalize recomputes probabilities, intervals and confidence for every cell
func (m *Matrix) Finalize() {
	for t := range m.Cells {
		for i := range m.Cells[t] {
			m.Cells[t][i].finalize()
		}
	}
}

// Validate checks shape and the per-cell probability invariants.
func (m *Matrix) Validate() error {
	if len(m.Cells) != TimeBuckets {
		return fmt.Errorf("%w: %d time buckets, want %d", ErrInvalidMatrix, len(m.Cells), TimeBuckets)
	}
	const eps = 1e-9
	for t, row := range m.Cells {
		if len(row) != DeltaBuckets {
			return fmt.Errorf("%w: time bucket %d has %d delta buckets, want %d",
				ErrInvalidMatrix, t, len(row), DeltaBuckets)
		}
		for i, c := range row {
			if c.CountUp < 0 || c.CountDown < 0 {
				return fmt.Errorf("%w: negative counts at [%d][%d]", ErrInvalidMatrix, t, i)
			}
			for _, p := range []float64{c.PUp, c.PDown, c.PUpLower, c.PUpUpper} {
				if p < 0 || p > 1 {
					return fmt.Errorf("%w: probability %.4f out of range at [%d][%d]", ErrInvalidMatrix, p, t, i)
				}
			}
			if c.PUpLower > c.PUp+eps || c.PUp > c.PUpUpper+eps {
				return fmt.Errorf("%w: interval [%.4f, %.4f] does not contain %.4f at [%d][%d]",
					ErrInvalidMatrix, c.PUpLower, c.PUpUpper, c.PUp, t, i)
			}
		}
	}
	return nil
}

// PopulatedCells counts cells with at least one observation
func (m *Matrix) PopulatedCells() int {
	n := 0
	for _, row := range m.Cells {
		for _, c := range row {
			if c.Total() > 0 {
				n++
			}
		}
	}
	return n
}
