package models

import "testing"

func TestIsValidPriority(t *testing.T) {
	for _, p := range Priorities {
		if !IsValidPriority(p) {
			t.Errorf("IsValidPriority(%q) = false", p)
		}
	}
	for _, p := range []Priority{"", "urgent", "CRITICAL"} {
		if IsValidPriority(p) {
			t.Errorf("IsValidPriority(%q) = true", p)
		}
	}
}

func TestStatusRankOrdering(t *testing.T) {
	order := []Status{StatusPending, StatusAssigned, StatusDispatched, StatusInProgress, StatusResolved}
	for i := 1; i < len(order); i++ {
		if StatusRank(order[i-1]) >= StatusRank(order[i]) {
			t.Errorf("rank(%s) >= rank(%s)", order[i-1], order[i])
		}
	}
	if StatusRank("closed") != -1 {
		t.Error("unknown status must rank -1")
	}
}
