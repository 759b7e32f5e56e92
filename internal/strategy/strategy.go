// Package strategy runs an ordered chain of alternatives, short-circuiting
// on the first success. Both the upload pipeline and the scoring client are
// instances of this combinator.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Strategy is one named alternative in a fallback chain.
type Strategy[T any] struct {
	Name string
	Run  func(context.Context) (T, error)
}

// ChainError aggregates the cause of every failed alternative, in order.
type ChainError struct {
	Causes []Cause
}

// Cause pairs one strategy name with its failure.
type Cause struct {
	Name string
	Err  error
}

func (e *ChainError) Error() string {
	if len(e.Causes) == 0 {
		return "no strategies configured"
	}
	var b strings.Builder
	b.WriteString("all strategies failed: ")
	for i, c := range e.Causes {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", c.Name, c.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying causes to errors.Is/As.
func (e *ChainError) Unwrap() error {
	errs := make([]error, 0, len(e.Causes))
	for _, c := range e.Causes {
		errs = append(errs, c.Err)
	}
	return errors.Join(errs...)
}

// Run attempts each strategy once, in fixed order, returning the first
// success along with the winning strategy's name. There is no cross-strategy
// retry loop; total failure yields a *ChainError listing every cause.
func Run[T any](ctx context.Context, strategies []Strategy[T]) (T, string, error) {
	var zero T
	chain := &ChainError{}

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		out, err := s.Run(ctx)
		if err == nil {
			return out, s.Name, nil
		}
		chain.Causes = append(chain.Causes, Cause{Name: s.Name, Err: err})
	}

	return zero, "", chain
}
