package chips

import (
	"sync"
	"testing"
)

// TestPolicyAlternatingChips feeds blank and annotated chips alternately and
// checks the counters and decisions after every step
func TestPolicyAlternatingChips(t *testing.T) {
	p := NewPolicy(false, 0.5)

	steps := []struct {
		labelled      bool
		wantAdmit     bool
		wantAnnotated int
		wantBlank     int
	}{
		// 1/1 > 0.5, blank chip admitted
		{false, true, 1, 2},
		// 1/2 is not > 0.5, admitted for its annotation
		{true, true, 2, 2},
		{false, true, 2, 3},
		{true, true, 3, 3},
		{false, true, 3, 4},
	}

	for i, s := range steps {
		got := p.Decide(s.labelled, s.labelled)
		if got != s.wantAdmit {
			t.Errorf("Step %d: admit = %v, want %v", i, got, s.wantAdmit)
		}
		annotated, blank := p.Counts()
		if annotated != s.wantAnnotated || blank != s.wantBlank {
			t.Errorf("Step %d: counters = %d/%d, want %d/%d", i, annotated, blank, s.wantAnnotated, s.wantBlank)
		}
	}
}

func TestPolicyRejectsBlankBelowRatio(t *testing.T) {
	p := NewPolicy(false, 1.0)

	// 1/1 is not > 1.0 and the chip has no foreground
	if p.Decide(false, false) {
		t.Error("Expected blank chip to be rejected")
	}
	if a, b := p.Counts(); a != 1 || b != 1 {
		t.Errorf("Rejected chip changed counters to %d/%d", a, b)
	}

	// annotated chips always pass and raise the ratio
	if !p.Decide(true, true) {
		t.Error("Expected annotated chip to be admitted")
	}
	if !p.Decide(false, false) {
		t.Error("Expected blank chip to be admitted once 2/1 > 1.0")
	}
}

func TestPolicyForegroundWithoutLabel(t *testing.T) {
	p := NewPolicy(false, 10)
	if !p.Decide(true, false) {
		t.Error("Expected chip with foreground to be admitted")
	}
	if a, b := p.Counts(); a != 1 || b != 2 {
		t.Errorf("Expected unlabelled foreground chip to count as blank, got %d/%d", a, b)
	}
}

func TestPolicySaveAll(t *testing.T) {
	p := NewPolicy(true, 100)
	for i := 0; i < 5; i++ {
		if !p.Decide(false, false) {
			t.Fatalf("SaveAll must keep chip %d", i)
		}
	}
	if _, b := p.Counts(); b != 6 {
		t.Errorf("Expected 6 blank count, got %d", b)
	}
}

func TestPolicyConcurrentIncrements(t *testing.T) {
	p := NewPolicy(true, 0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				p.Decide(true, w%2 == 0)
			}
		}(w)
	}
	wg.Wait()

	annotated, blank := p.Counts()
	if annotated != 4001 || blank != 4001 {
		t.Errorf("Lost updates: counters = %d/%d, want 4001/4001", annotated, blank)
	}
}
