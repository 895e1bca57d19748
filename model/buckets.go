package model

import "fmt"

// ═══════════════════════════════════════════════════════════════════════════════
// BUCKETING - Discretizes (elapsed seconds, price delta) into matrix coordinates
// ═══════════════════════════════════════════════════════════════════════════════
//
// Time:  60 fixed buckets of 15s covering the 900s window
// Delta: 34 asymmetric buckets, -17 .. +16, wider further from zero,
//        with open-ended tails below -$300 and above +$300
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	WindowSeconds  = 900
	BucketSeconds  = 15
	TimeBuckets    = WindowSeconds / BucketSeconds
	DeltaBucketMin = -17
	DeltaBucketMax = 16
	DeltaBuckets   = DeltaBucketMax - DeltaBucketMin + 1
)

// negative thresholds: delta < negEdges[i] maps to -17+i
var negEdges = [...]float64{-300, -260, -230, -200, -170, -140, -110, -90, -70, -50, -40, -30, -20, -15, -10, -5}

// positive thresholds: delta < posEdges[i] maps to i
var posEdges = [...]float64{5, 10, 15, 20, 30, 40, 50, 70, 90, 110, 140, 170, 200, 230, 260, 300}

// TimeBucket maps elapsed seconds to [0, TimeBuckets).
func TimeBucket(elapsed int) int {
	if elapsed < 0 {
		return 0
	}
	b := elapsed / BucketSeconds
	if b >= TimeBuckets {
		return TimeBuckets - 1
	}
	return b
}

// DeltaBucket maps a spot delta in dollars to [DeltaBucketMin, DeltaBucketMax].
func DeltaBucket(delta float64) int {
	if delta < 0 {
		for i, edge := range negEdges {
			if delta < edge {
				return DeltaBucketMin + i
			}
		}
		return -1
	}
	for i, edge := range posEdges {
		if delta < edge {
			return i
		}
	}
	return DeltaBucketMax
}

func clampTime(t int) int {
	if t < 0 {
		return 0
	}
	if t >= TimeBuckets {
		return TimeBuckets - 1
	}
	return t
}

func clampDelta(d int) int {
	if d < DeltaBucketMin {
		return DeltaBucketMin
	}
	if d > DeltaBucketMax {
		return DeltaBucketMax
	}
	return d
}

// DeltaLabel renders the dollar range a delta bucket covers.
func DeltaLabel(bucket int) string {
	bucket = clampDelta(bucket)
	switch {
	case bucket == DeltaBucketMin:
		return fmt.Sprintf("< -$%.0f", -negEdges[0])
	case bucket == DeltaBucketMax:
		return fmt.Sprintf("> +$%.0f", posEdges[len(posEdges)-1])
	case bucket == -1:
		return fmt.Sprintf("-$%.0f to $0", -negEdges[len(negEdges)-1])
	case bucket < 0:
		i := bucket - DeltaBucketMin
		return fmt.Sprintf("-$%.0f to -$%.0f", -negEdges[i-1], -negEdges[i])
	case bucket == 0:
		return fmt.Sprintf("$0 to +$%.0f", posEdges[0])
	default:
		return fmt.Sprintf("+$%.0f to +$%.0f", posEdges[bucket-1], posEdges[bucket])
	}
}
