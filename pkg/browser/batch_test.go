package browser

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBatch_OutcomesInTargetOrder(t *testing.T) {
	failB := errors.New("b failed")
	result := runBatch(context.Background(), []string{"a", "b", "c"}, 2,
		func(ctx context.Context, id string) error {
			if id == "b" {
				return failB
			}
			return nil
		})

	if len(result) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(result))
	}
	for i, want := range []string{"a", "b", "c"} {
		if result[i].ID != want {
			t.Errorf("outcome %d: id %q, want %q", i, result[i].ID, want)
		}
	}
	if result[0].Err != nil || result[2].Err != nil {
		t.Error("a and c should have succeeded")
	}
	if !errors.Is(result[1].Err, failB) {
		t.Errorf("b should carry its failure, got %v", result[1].Err)
	}
}

func TestRunBatch_WaitsForAllToSettle(t *testing.T) {
	var settled atomic.Int32
	ids := []string{"1", "2", "3", "4", "5"}

	runBatch(context.Background(), ids, 2, func(ctx context.Context, id string) error {
		time.Sleep(5 * time.Millisecond)
		settled.Add(1)
		return nil
	})

	if got := settled.Load(); got != int32(len(ids)) {
		t.Errorf("runBatch returned before all settled: %d of %d", got, len(ids))
	}
}

func TestRunBatch_RespectsConcurrencyLimit(t *testing.T) {
	const limit = 2
	var mu sync.Mutex
	inFlight, peak := 0, 0

	runBatch(context.Background(), []string{"a", "b", "c", "d", "e", "f"}, limit,
		func(ctx context.Context, id string) error {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		})

	if peak > limit {
		t.Errorf("concurrency peaked at %d, limit is %d", peak, limit)
	}
	if peak == 0 {
		t.Error("nothing ran")
	}
}

func TestBatchResult_Helpers(t *testing.T) {
	boom := errors.New("boom")
	r := BatchResult{
		{ID: "a", Err: nil},
		{ID: "b", Err: boom},
		{ID: "c", Err: boom},
	}

	if r.AllOK() {
		t.Error("AllOK should be false with failures present")
	}
	if got := r.FailedIDs(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("FailedIDs = %v", got)
	}
	if got := len(r.Failed()); got != 2 {
		t.Errorf("Failed len = %d", got)
	}

	ok := BatchResult{{ID: "a"}, {ID: "b"}}
	if !ok.AllOK() {
		t.Error("AllOK should be true with no failures")
	}
	if ok.FailedIDs() != nil {
		t.Errorf("FailedIDs should be nil, got %v", ok.FailedIDs())
	}
}

func TestRunBatch_Empty(t *testing.T) {
	result := runBatch(context.Background(), nil, 4, func(ctx context.Context, id string) error {
		t.Error("op should not be called")
		return nil
	})
	if len(result) != 0 {
		t.Errorf("expected empty result, got %v", result)
	}
}
