package model

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/web3guy0/windowbot/types"
)

func TestTimeBucket(t *testing.T) {
	tests := []struct {
		elapsed int
		want    int
	}{
		{-5, 0},
		{0, 0},
		{14, 0},
		{15, 1},
		{120, 8},
		{899, 59},
		{900, 59},
		{5000, 59},
	}
	for _, tt := range tests {
		if got := TimeBucket(tt.elapsed); got != tt.want {
			t.Errorf("TimeBucket(%d) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
}

func TestDeltaBucket(t *testing.T) {
	tests := []struct {
		delta float64
		want  int
	}{
		{-1000, -17},
		{-300.01, -17},
		{-300, -16},
		{-260.5, -16},
		{-45, -7},
		{-5.01, -2},
		{-5, -1},
		{-0.01, -1},
		{0, 0},
		{4.99, 0},
		{5, 1},
		{35, 5},
		{299.99, 15},
		{300, 16},
		{1e6, 16},
	}
	for _, tt := range tests {
		if got := DeltaBucket(tt.delta); got != tt.want {
			t.Errorf("DeltaBucket(%.2f) = %d, want %d", tt.delta, got, tt.want)
		}
	}
}

func TestDeltaLabel(t *testing.T) {
	tests := map[int]string{
		-17: "< -$300",
		-16: "-$300 to -$260",
		-2:  "-$10 to -$5",
		-1:  "-$5 to $0",
		0:   "$0 to +$5",
		5:   "+$30 to +$40",
		16:  "> +$300",
	}
	for b, want := range tests {
		if got := DeltaLabel(b); got != want {
			t.Errorf("DeltaLabel(%d) = %q, want %q", b, got, want)
		}
	}
}

func TestConfidenceFromSamples(t *testing.T) {
	tests := []struct {
		n    int
		want Confidence
	}{
		{0, Unreliable},
		{9, Unreliable},
		{10, Weak},
		{29, Weak},
		{30, Moderate},
		{99, Moderate},
		{100, Strong},
		{10000, Strong},
	}
	for _, tt := range tests {
		if got := ConfidenceFromSamples(tt.n); got != tt.want {
			t.Errorf("ConfidenceFromSamples(%d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestWilson(t *testing.T) {
	lo, hi := Wilson(0, 0)
	if lo != 0 || hi != 1 {
		t.Fatalf("empty sample: got (%f, %f), want (0, 1)", lo, hi)
	}

	lo, hi = Wilson(40, 50)
	if math.Abs(lo-0.6696) > 0.001 || math.Abs(hi-0.8876) > 0.001 {
		t.Errorf("Wilson(40, 50) = (%.4f, %.4f), want ~(0.6696, 0.8876)", lo, hi)
	}
	if lo > 0.8 || hi < 0.8 {
		t.Errorf("interval must contain the point estimate")
	}

	lo, hi = Wilson(0, 20)
	if lo > 1e-9 || hi <= 0 {
		t.Errorf("Wilson(0, 20) = (%f, %f)", lo, hi)
	}
	lo, hi = Wilson(20, 20)
	if hi < 1-1e-9 || lo >= 1 {
		t.Errorf("Wilson(20, 20) = (%f, %f)", lo, hi)
	}
}

func TestMatrixLookupClamps(t *testing.T) {
	m := NewMatrix()
	for i := 0; i < 5; i++ {
		m.Record(59, 1000, types.Up)
		m.Record(0, -1000, types.Down)
	}
	m.Finalize()

	if c := m.Lookup(1000, 1000); c.CountUp != 5 || c.TimeBucket != 59 || c.DeltaBucket != 16 {
		t.Errorf("upper clamp: got %+v", c)
	}
	if c := m.Lookup(-3, -99); c.CountDown != 5 || c.TimeBucket != 0 || c.DeltaBucket != -17 {
		t.Errorf("lower clamp: got %+v", c)
	}
	if c := m.At(12000, 5000); c.CountUp != 5 {
		t.Errorf("At should clamp like Lookup, got %+v", c)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if n := m.PopulatedCells(); n != 2 {
		t.Errorf("PopulatedCells = %d, want 2", n)
	}
}

func TestCellStatistics(t *testing.T) {
	m := NewMatrix()
	for i := 0; i < 40; i++ {
		m.Record(8, 35, types.Up)
	}
	for i := 0; i < 10; i++ {
		m.Record(8, 35, types.Down)
	}
	m.Finalize()

	c := m.Lookup(8, 5)
	if c.Total() != 50 {
		t.Fatalf("Total = %d, want 50", c.Total())
	}
	if math.Abs(c.PUp-0.8) > 1e-9 || math.Abs(c.PDown-0.2) > 1e-9 {
		t.Errorf("point estimates = (%f, %f)", c.PUp, c.PDown)
	}
	if c.Confidence != Moderate {
		t.Errorf("Confidence = %s, want Moderate", c.Confidence)
	}
	if c.BetaAlpha != 41 || c.BetaBeta != 11 {
		t.Errorf("beta posterior = (%f, %f), want (41, 11)", c.BetaAlpha, c.BetaBeta)
	}
	if got := c.Conservative(types.Up); got != c.PUpLower {
		t.Errorf("Conservative(Up) = %f, want lower bound %f", got, c.PUpLower)
	}
	if got := c.Conservative(types.Down); math.Abs(got-(1-c.PUpUpper)) > 1e-12 {
		t.Errorf("Conservative(Down) = %f, want %f", got, 1-c.PUpUpper)
	}

	empty := m.Lookup(30, 0)
	if empty.PUp != 0.5 || empty.PUpLower != 0 || empty.PUpUpper != 1 || empty.Confidence != Unreliable {
		t.Errorf("empty cell = %+v", empty)
	}
}

func TestDecodeMatrixRoundTrip(t *testing.T) {
	m := NewMatrix()
	for i := 0; i < 120; i++ {
		m.Record(10, -20, types.Down)
	}
	m.Finalize()

	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "matrix.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadMatrixFile(path)
	if err != nil {
		t.Fatalf("LoadMatrixFile: %v", err)
	}
	c := loaded.Lookup(10, DeltaBucket(-20))
	if c.CountDown != 120 || c.Confidence != Strong {
		t.Errorf("loaded cell = %+v", c)
	}
}

func TestDecodeMatrixRejectsInvalid(t *testing.T) {
	if _, err := DecodeMatrix([]byte(`{not json`)); !errors.Is(err, ErrInvalidMatrix) {
		t.Errorf("corrupt json: err = %v, want ErrInvalidMatrix", err)
	}
	if _, err := DecodeMatrix([]byte(`{"cells": []}`)); !errors.Is(err, ErrInvalidMatrix) {
		t.Errorf("wrong shape: err = %v, want ErrInvalidMatrix", err)
	}

	m := NewMatrix()
	m.Cells[3][4].PUpLower = 0.9
	m.Cells[3][4].PUp = 0.5
	data, _ := m.Encode()
	if _, err := DecodeMatrix(data); !errors.Is(err, ErrInvalidMatrix) {
		t.Errorf("bound above point: err = %v, want ErrInvalidMatrix", err)
	}

	if _, err := LoadMatrixFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestDecodeMatrixRederivesConfidence(t *testing.T) {
	m := NewMatrix()
	m.Cells[0][0].Confidence = Strong
	data, _ := m.Encode()
	loaded, err := DecodeMatrix(data)
	if err != nil {
		t.Fatal(err)
	}
	if c := loaded.Lookup(0, DeltaBucketMin); c.Confidence != Unreliable {
		t.Errorf("Confidence = %s, want Unreliable for an empty cell", c.Confidence)
	}
}

func TestCrossingPReach(t *testing.T) {
	m := NewCrossingMatrix()
	s := CrossingState{TimeBucket: 4, DeltaBucket: 2, Trajectories: 50}
	s.AvgCrossings[14] = math.Log(2)
	m.Set(s)

	got := m.Lookup(4, 2)
	if !got.Sufficient() {
		t.Error("50 trajectories should be sufficient")
	}
	if p := got.PReach(14); math.Abs(p-0.5) > 1e-9 {
		t.Errorf("PReach = %f, want 0.5", p)
	}
	if p := got.PReach(25); p != 0 {
		t.Errorf("out-of-range level PReach = %f, want 0", p)
	}
	if lp := LevelPrice(14); math.Abs(lp-0.60) > 1e-9 {
		t.Errorf("LevelPrice(14) = %f, want 0.60", lp)
	}
	if lp := LevelPrice(24); math.Abs(lp-1.0) > 1e-9 {
		t.Errorf("LevelPrice(24) = %f, want 1.0", lp)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestPriceToDeltaBucket(t *testing.T) {
	tests := []struct {
		price float64
		dir   types.Direction
		want  int
	}{
		{0.30, types.Up, -11},
		{0.35, types.Up, -11},
		{0.40, types.Up, -8},
		{0.55, types.Up, 1},
		{0.70, types.Up, 7},
		{0.95, types.Up, 15},
		{0.99, types.Up, 16},
		{0.70, types.Down, -7},
		{0.40, types.Down, 8},
	}
	for _, tt := range tests {
		if got := PriceToDeltaBucket(tt.price, tt.dir); got != tt.want {
			t.Errorf("PriceToDeltaBucket(%.2f, %s) = %d, want %d", tt.price, tt.dir, got, tt.want)
		}
	}
}

func TestPassageRecord(t *testing.T) {
	m := NewPassageMatrix()
	for i := 0; i < 100; i++ {
		m.Record(5, 0, types.Up, 7, i%4 == 0)
	}
	c := m.Lookup(5, 0).Target(types.Up, 7)
	if c.Total != 100 || c.Reached != 25 {
		t.Fatalf("cell = %+v", c)
	}
	if math.Abs(c.PReach-0.25) > 1e-9 || c.Confidence != Strong {
		t.Errorf("cell = %+v", c)
	}
	if c.Lower > 0.25 || c.Upper < 0.25 {
		t.Errorf("interval (%f, %f) excludes the estimate", c.Lower, c.Upper)
	}
	if other := m.Lookup(5, 0).Target(types.Down, 7); other.Total != 0 {
		t.Errorf("down targets must be independent, got %+v", other)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
}
