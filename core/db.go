package core

import "context"

// Transactor runs fn as one unit of work: either everything fn wrote is committed or nothing is.
// Repositories called with the context handed to fn take part in the same unit of work.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

// Page is a 1-based page request.
type Page struct {
	Page  int `query:"page"`
	Limit int `query:"limit"`
}

// Clean clamps the page and its limit into their allowed ranges.
func (p *Page) Clean() {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit < 1:
		p.Limit = DefaultPageLimit
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}
}

func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
