// Package state rebuilds, dumps and compares full L4 books offline.
package state

import (
	"slices"

	"l4book/internal/book"
	"l4book/internal/model"
)

// Books applies events to one book per coin on the caller's goroutine.
// It is the offline counterpart of the ingest manager.
type Books struct {
	opt   book.Option
	books map[string]*book.Book
}

// NewBooks creates an empty set.
func NewBooks(opt book.Option) *Books {
	return &Books{opt: opt, books: make(map[string]*book.Book)}
}

// Apply routes ev to its coin's book, creating the book on demand.
func (s *Books) Apply(ev model.Event) error {
	return s.Get(ev.Coin).Apply(ev)
}

// Get returns the book of coin, creating it if needed.
func (s *Books) Get(coin string) *book.Book {
	b, ok := s.books[coin]
	if !ok {
		b = book.New(coin, s.opt)
		s.books[coin] = b
	}
	return b
}

// Lookup returns the book of coin if it exists.
func (s *Books) Lookup(coin string) (*book.Book, bool) {
	b, ok := s.books[coin]
	return b, ok
}

// Coins returns the known coins, sorted.
func (s *Books) Coins() []string {
	coins := make([]string, 0, len(s.books))
	for c := range s.books {
		coins = append(coins, c)
	}
	slices.Sort(coins)
	return coins
}

// All returns every book ordered by coin.
func (s *Books) All() []*book.Book {
	out := make([]*book.Book, 0, len(s.books))
	for _, c := range s.Coins() {
		out = append(out, s.books[c])
	}
	return out
}
