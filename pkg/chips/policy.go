package chips

import "sync"

// Policy decides which chips are kept. It balances annotated chips against
// blank ones through two counters shared by every locator task of a slide.
// Both counters start at 1.
type Policy struct {
	// SaveAll keeps every chip
	SaveAll bool

	// SaveRatio is the annotated/blank ratio above which any chip is kept
	SaveRatio float64

	mu        sync.Mutex
	annotated int
	blank     int
}

// NewPolicy creates a policy with fresh counters
func NewPolicy(saveAll bool, saveRatio float64) *Policy {
	return &Policy{
		SaveAll:   saveAll,
		SaveRatio: saveRatio,
		annotated: 1,
		blank:     1,
	}
}

// Decide applies the admission rule to one chip and, if the chip is kept,
// counts it as annotated or blank. hasForeground reports whether the chip's
// mask holds any value above background; labelled reports whether any of
// those values belongs to a known annotation. The test and the increment
// happen atomically.
func (p *Policy) Decide(hasForeground, labelled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.admit(hasForeground) {
		return false
	}
	if labelled {
		p.annotated++
	} else {
		p.blank++
	}
	return true
}

// admit must be called with the lock held
func (p *Policy) admit(hasForeground bool) bool {
	switch {
	case p.SaveAll:
		return true
	case float64(p.annotated)/float64(p.blank) > p.SaveRatio:
		return true
	default:
		return hasForeground
	}
}

// Counts returns the current annotated and blank counters
func (p *Policy) Counts() (annotated, blank int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.annotated, p.blank
}
