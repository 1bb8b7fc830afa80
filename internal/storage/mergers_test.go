package storage

import (
	"testing"
	"time"
)

// TestSaveMASearchAppendOnly verifies repeated identical searches are kept.
func TestSaveMASearchAppendOnly(t *testing.T) {
	s, clock := openClockedStore(t)

	for i := 0; i < 2; i++ {
		if _, err := s.SaveMASearch("Plastics", "2023", "| deal |", 4); err != nil {
			t.Fatalf("SaveMASearch: %v", err)
		}
		clock.Advance(time.Second)
	}
	if _, err := s.SaveMASearch("Steel", "last 12 months", "| deal |", 7); err != nil {
		t.Fatalf("SaveMASearch: %v", err)
	}

	got, err := s.RecentMASearches(10)
	if err != nil {
		t.Fatalf("RecentMASearches: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Subject != "Steel" || got[0].DealCount != 7 || got[0].Timeframe != "last 12 months" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Subject != "Plastics" || got[2].Subject != "Plastics" {
		t.Errorf("expected both Plastics rows kept: %+v", got)
	}
}

func TestSaveComparison(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveComparison(Comparison{DocumentIDs: []int64{3, 1}, Prompt: "compare growth", Payload: "| x |", WebSearch: true, WebInsights: "- bullet"})
	if err != nil {
		t.Fatalf("SaveComparison: %v", err)
	}

	got, err := s.RecentComparisons(5)
	if err != nil {
		t.Fatalf("RecentComparisons: %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Fatalf("RecentComparisons = %+v", got)
	}
	c := got[0]
	if len(c.DocumentIDs) != 2 || c.DocumentIDs[0] != 3 || !c.WebSearch || c.WebInsights != "- bullet" {
		t.Errorf("comparison = %+v", c)
	}
}
