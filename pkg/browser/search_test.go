package browser

import (
	"testing"
	"time"
)

type notification struct {
	query   string
	filters FilterCriteria
}

// collectNotifications wires a controller to a buffered channel.
func collectNotifications(delay time.Duration) (*SearchController, chan notification) {
	ch := make(chan notification, 16)
	c := NewSearchController(delay, func(q string, f FilterCriteria) {
		ch <- notification{q, f}
	})
	return c, ch
}

func drain(ch chan notification, settle time.Duration) []notification {
	var got []notification
	deadline := time.After(settle)
	for {
		select {
		case n := <-ch:
			got = append(got, n)
		case <-deadline:
			return got
		}
	}
}

func TestSearch_DebounceCollapsesKeystrokes(t *testing.T) {
	c, ch := collectNotifications(20 * time.Millisecond)
	defer c.Close()

	c.SetQuery("r")
	c.SetQuery("re")
	c.SetQuery("rep")
	c.SetQuery("report")

	got := drain(ch, 150*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d: %v", len(got), got)
	}
	if got[0].query != "report" {
		t.Errorf("expected final string %q, got %q", "report", got[0].query)
	}
}

func TestSearch_SeparateQuietPeriods(t *testing.T) {
	c, ch := collectNotifications(10 * time.Millisecond)
	defer c.Close()

	c.SetQuery("first")
	time.Sleep(80 * time.Millisecond)
	c.SetQuery("second")

	got := drain(ch, 150*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d: %v", len(got), got)
	}
	if got[0].query != "first" || got[1].query != "second" {
		t.Errorf("unexpected sequence: %v", got)
	}
}

func TestSearch_CloseCancelsPending(t *testing.T) {
	c, ch := collectNotifications(20 * time.Millisecond)

	c.SetQuery("abandoned")
	c.Close()

	if got := drain(ch, 150*time.Millisecond); len(got) != 0 {
		t.Errorf("expected no notification after Close, got %v", got)
	}
}

func TestSearch_SetQueryAfterCloseIgnored(t *testing.T) {
	c, ch := collectNotifications(10 * time.Millisecond)
	c.Close()

	c.SetQuery("late")

	if got := drain(ch, 100*time.Millisecond); len(got) != 0 {
		t.Errorf("expected no notification, got %v", got)
	}
}

func TestSearch_ApplyFiltersNotifiesImmediately(t *testing.T) {
	c, ch := collectNotifications(time.Hour) // debounce would never fire in this test
	defer c.Close()

	f := FilterCriteria{Type: "image", MinSize: 1024}
	c.ApplyFilters(f)

	select {
	case n := <-ch:
		if n.filters != f {
			t.Errorf("expected filters %+v, got %+v", f, n.filters)
		}
	case <-time.After(time.Second):
		t.Fatal("apply did not notify")
	}
}

func TestSearch_ApplyCarriesCurrentQueryAndCancelsTimer(t *testing.T) {
	c, ch := collectNotifications(20 * time.Millisecond)
	defer c.Close()

	c.SetQuery("holiday")
	c.ApplyFilters(FilterCriteria{Type: "image"})

	got := drain(ch, 150*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("expected 1 notification (apply supersedes pending timer), got %d: %v", len(got), got)
	}
	if got[0].query != "holiday" || got[0].filters.Type != "image" {
		t.Errorf("unexpected notification: %+v", got[0])
	}
}

func TestSearch_ResetAlwaysNotifiesEmptyCriteria(t *testing.T) {
	c, ch := collectNotifications(10 * time.Millisecond)
	defer c.Close()

	// Reset with nothing set still notifies.
	c.ResetFilters()
	// And again after setting something.
	c.ApplyFilters(FilterCriteria{Type: "video", MaxSize: 99})
	c.ResetFilters()

	got := drain(ch, 100*time.Millisecond)
	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d: %v", len(got), got)
	}
	if !got[0].filters.IsZero() {
		t.Errorf("first reset should carry empty criteria, got %+v", got[0].filters)
	}
	if got[1].filters.Type != "video" {
		t.Errorf("apply should carry criteria, got %+v", got[1].filters)
	}
	if !got[2].filters.IsZero() {
		t.Errorf("second reset should carry empty criteria, got %+v", got[2].filters)
	}
}

func TestSearch_InvalidRangePassedThrough(t *testing.T) {
	c, ch := collectNotifications(10 * time.Millisecond)
	defer c.Close()

	// min > max travels as-is; the server side decides what it matches.
	inverted := FilterCriteria{MinSize: 1 << 20, MaxSize: 1024}
	c.ApplyFilters(inverted)

	select {
	case n := <-ch:
		if n.filters.MinSize != 1<<20 || n.filters.MaxSize != 1024 {
			t.Errorf("range was altered: %+v", n.filters)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestFilterCriteria_IsZero(t *testing.T) {
	if !(FilterCriteria{}).IsZero() {
		t.Error("zero value should be zero")
	}
	if (FilterCriteria{Type: "audio"}).IsZero() {
		t.Error("type set should not be zero")
	}
	if (FilterCriteria{ModifiedAfter: time.Now()}).IsZero() {
		t.Error("date set should not be zero")
	}
}
