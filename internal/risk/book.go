package risk

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrPositionExists is returned when a symbol already has an open position.
var ErrPositionExists = errors.New("position already open")

// PositionBook holds at most one open position per symbol.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]Position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]Position)}
}

// Open adds a position, refusing a second one for the same symbol.
func (b *PositionBook) Open(pos Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[pos.Symbol]; ok {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Symbol)
	}
	b.positions[pos.Symbol] = pos
	return nil
}

// Get returns the open position for symbol.
func (b *PositionBook) Get(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[symbol]
	return pos, ok
}

// Close removes and returns the open position for symbol.
func (b *PositionBook) Close(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if ok {
		delete(b.positions, symbol)
	}
	return pos, ok
}

// All returns the open positions ordered by symbol.
func (b *PositionBook) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of open positions.
func (b *PositionBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}
