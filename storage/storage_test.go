package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/types"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	d, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMatrixSnapshots(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if _, err := d.LoadActiveMatrix(ctx); !errors.Is(err, ErrNoActiveMatrix) {
		t.Fatalf("err = %v, want ErrNoActiveMatrix", err)
	}

	first := model.NewMatrix()
	first.Record(10, 25, types.Up)
	first.Finalize()
	first.TotalWindows = 1
	if _, err := d.SaveMatrix(ctx, "first", first, true); err != nil {
		t.Fatalf("SaveMatrix: %v", err)
	}

	second := model.NewMatrix()
	for i := 0; i < 40; i++ {
		second.Record(10, 25, types.Up)
	}
	second.Finalize()
	second.TotalWindows = 40
	if _, err := d.SaveMatrix(ctx, "second", second, true); err != nil {
		t.Fatalf("SaveMatrix: %v", err)
	}
	if _, err := d.SaveMatrix(ctx, "inactive", model.NewMatrix(), false); err != nil {
		t.Fatalf("SaveMatrix: %v", err)
	}

	m, err := d.LoadActiveMatrix(ctx)
	if err != nil {
		t.Fatalf("LoadActiveMatrix: %v", err)
	}
	if m.TotalWindows != 40 {
		t.Errorf("loaded total_windows = %d, want the newest active snapshot", m.TotalWindows)
	}
	if c := m.Lookup(10, model.DeltaBucket(25)); c.CountUp != 40 || c.Confidence != model.Moderate {
		t.Errorf("cell = %+v", c)
	}

	var active int64
	d.db.Model(&MatrixSnapshot{}).Where("active = ?", true).Count(&active)
	if active != 1 {
		t.Errorf("active snapshots = %d, want 1", active)
	}
}

func TestWindowOutcomeUpsert(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for _, px := range []float64{95100, 94900} {
		err := d.Write(ctx, &WindowOutcome{
			WindowStart: start,
			WindowEnd:   start.Add(15 * time.Minute),
			OpenPrice:   decimal.NewFromInt(95000),
			ClosePrice:  decimal.NewFromFloat(px),
			Outcome:     types.OutcomeFor(95000, px).String(),
		})
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	out, err := d.Outcomes(ctx, start)
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(out) != 1 || out[0].Outcome != "DOWN" {
		t.Fatalf("outcomes = %+v, want one DOWN row", out)
	}

	if err := d.Write(ctx, "nope"); err == nil {
		t.Error("unsupported record must fail")
	}
}

func TestRecorderWritesAndStats(t *testing.T) {
	d := openTestDB(t)
	r := NewRecorder(d, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Record(&TradeAttempt{PositionID: "p1", Side: "BUY", Result: "filled"})
	r.Record(&TradeAttempt{Side: "BUY", Result: "rejected", Reason: "no liquidity"})
	r.Record(&Execution{PositionID: "p1", Side: "BUY"})
	r.Record(&PositionEvent{PositionID: "p1", Event: "OPEN"})
	r.Record(&PositionEvent{PositionID: "p1", Event: "SETTLE", PnL: decimal.NewFromFloat(3.5)})
	r.Record(&PositionEvent{PositionID: "p2", Event: "EXIT", PnL: decimal.NewFromFloat(-1)})
	cancel()
	<-done

	if r.Written() != 6 || r.Dropped() != 0 {
		t.Fatalf("written %d dropped %d", r.Written(), r.Dropped())
	}

	s, err := d.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Settled != 2 || s.Wins != 1 || s.Losses != 1 || !s.TotalPnL.Equal(decimal.NewFromFloat(2.5)) {
		t.Errorf("stats = %+v", s)
	}
	if s.Attempts != 2 || s.Rejected != 1 {
		t.Errorf("attempts = %d rejected = %d", s.Attempts, s.Rejected)
	}

	events, err := d.RecentEvents(context.Background(), 2)
	if err != nil || len(events) != 2 || events[0].PositionID != "p2" {
		t.Errorf("recent = %+v, %v", events, err)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(nil, 1)
	if !r.Record(&PositionEvent{}) {
		t.Fatal("first record should queue")
	}
	if r.Record(&PositionEvent{}) {
		t.Fatal("second record should drop")
	}
	if r.Dropped() != 1 {
		t.Errorf("dropped = %d", r.Dropped())
	}

	var nilRec *Recorder
	if nilRec.Record(&PositionEvent{}) || nilRec.Dropped() != 0 {
		t.Error("nil recorder must discard quietly")
	}
}
