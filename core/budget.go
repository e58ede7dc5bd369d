package core

import (
	"fmt"
	"sync"
)

// Budget is the advisory token counter of a single council run. It starts at
// a ceiling and is decremented by the usage reported for every model call.
// It never aborts a run; callers consult Exhausted to route to cheaper models.
// Each run owns its own Budget.
type Budget struct {
	ceiling int
	used    int
	mu      sync.Mutex
}

// NewBudget creates a budget with the given ceiling. A ceiling <= 0 never
// exhausts.
func NewBudget(ceiling int) *Budget {
	return &Budget{ceiling: ceiling}
}

// Spend records token usage and returns the remaining budget.
func (b *Budget) Spend(tokens int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tokens > 0 {
		b.used += tokens
	}

	return b.ceiling - b.used
}

// Used returns the tokens spent so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.used
}

// Ceiling returns the configured ceiling.
func (b *Budget) Ceiling() int { return b.ceiling }

// Remaining returns ceiling minus usage; it may go negative.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ceiling - b.used
}

// Exhausted reports whether usage reached the ceiling.
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.ceiling > 0 && b.used >= b.ceiling
}

// String renders the budget as "remaining/ceiling".
func (b *Budget) String() string {
	return fmt.Sprintf("%d/%d", b.Remaining(), b.ceiling)
}
