package browser

import (
	"reflect"
	"testing"
)

func TestSelection_TogglePairIsIdempotent(t *testing.T) {
	s := NewSelectionSet()
	s.Add("a")

	before := s.IDs()
	s.Toggle("x")
	s.Toggle("x")
	after := s.IDs()

	if !reflect.DeepEqual(before, after) {
		t.Errorf("toggling twice changed the set: %v -> %v", before, after)
	}

	// Same property starting from a selected id
	s.Toggle("a")
	s.Toggle("a")
	if !s.Has("a") {
		t.Error("expected a to be selected again after toggle pair")
	}
}

func TestSelection_Toggle(t *testing.T) {
	s := NewSelectionSet()

	if got := s.Toggle("a"); !got {
		t.Error("first toggle should select")
	}
	if !s.Has("a") || s.Len() != 1 {
		t.Errorf("expected {a}, got %v", s.IDs())
	}

	if got := s.Toggle("a"); got {
		t.Error("second toggle should deselect")
	}
	if s.Has("a") || s.Len() != 0 {
		t.Errorf("expected empty set, got %v", s.IDs())
	}
}

func TestSelection_IDsSorted(t *testing.T) {
	s := NewSelectionSet()
	s.Add("c")
	s.Add("a")
	s.Add("b")

	want := []string{"a", "b", "c"}
	if got := s.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
}

func TestSelection_Clear(t *testing.T) {
	s := NewSelectionSet()
	s.Add("a")
	s.Add("b")
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("expected empty after clear, got %v", s.IDs())
	}

	// The set remains usable after clear
	s.Add("c")
	if !s.Has("c") {
		t.Error("expected c selected after clear and re-add")
	}
}

func TestSelection_Remove(t *testing.T) {
	s := NewSelectionSet()
	s.Add("a")
	s.Add("b")
	s.Remove("a")
	s.Remove("missing")

	if s.Has("a") || !s.Has("b") {
		t.Errorf("expected only b, got %v", s.IDs())
	}
}
