// Package trigram turns text into the set of overlapping three-rune tokens
// used by both the indexer and the search engine.
package trigram

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// Size is the token length in runes.
	Size = 3

	// DefaultParallelThreshold is the content length (in runes) above which
	// generation is split across goroutines.
	DefaultParallelThreshold = 10000

	// DefaultWorkers is the number of goroutines used above the threshold.
	DefaultWorkers = 4

	// ctxCheckEvery bounds how often a worker polls for cancellation.
	ctxCheckEvery = 4096
)

// Set maps each distinct trigram to the rune offset of its first occurrence.
type Set map[string]int

// Trigram is one entry of a Set.
type Trigram struct {
	Text     string
	Position int
}

// Sorted returns the set's entries ordered by position, then text.
func (s Set) Sorted() []Trigram {
	out := make([]Trigram, 0, len(s))
	for text, pos := range s {
		out = append(out, Trigram{Text: text, Position: pos})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// Texts returns the distinct trigrams in lexical order.
func (s Set) Texts() []string {
	out := make([]string, 0, len(s))
	for text := range s {
		out = append(out, text)
	}
	sort.Strings(out)
	return out
}

// Normalize lower-cases text. Indexer and search engine must agree on it.
func Normalize(text string) string {
	return strings.ToLower(text)
}

// Generator produces trigram sets, switching to parallel decomposition for
// long content.
type Generator struct {
	ParallelThreshold int
	Workers           int
}

// NewGenerator returns a Generator, substituting defaults for non-positive values.
func NewGenerator(parallelThreshold, workers int) Generator {
	if parallelThreshold <= 0 {
		parallelThreshold = DefaultParallelThreshold
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return Generator{ParallelThreshold: parallelThreshold, Workers: workers}
}

// Generate normalizes text and returns its trigram set. Text shorter than
// Size runes yields an empty set.
func (g Generator) Generate(ctx context.Context, text string) (Set, error) {
	runes := []rune(Normalize(text))
	if len(runes) < Size {
		return Set{}, nil
	}
	threshold := g.ParallelThreshold
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	if len(runes) <= threshold || g.Workers <= 1 {
		return collect(runes, 0, len(runes)-Size+1), nil
	}
	return g.generateParallel(ctx, runes)
}

// Generate is the sequential form, used for short strings such as queries.
func Generate(text string) Set {
	runes := []rune(Normalize(text))
	if len(runes) < Size {
		return Set{}
	}
	return collect(runes, 0, len(runes)-Size+1)
}

// generateParallel splits the offset range [0, n-Size] into contiguous
// chunks, collects each independently and merges keeping the lowest offset.
func (g Generator) generateParallel(ctx context.Context, runes []rune) (Set, error) {
	offsets := len(runes) - Size + 1
	workers := g.Workers
	if workers > offsets {
		workers = offsets
	}
	chunk := (offsets + workers - 1) / workers

	parts := make([]Set, workers)
	eg, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > offsets {
			end = offsets
		}
		if start >= end {
			continue
		}
		eg.Go(func() error {
			part := make(Set)
			for i := start; i < end; i++ {
				if (i-start)%ctxCheckEvery == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				tg := string(runes[i : i+Size])
				if _, ok := part[tg]; !ok {
					part[tg] = i
				}
			}
			parts[w] = part
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged := make(Set, len(parts[0]))
	for _, part := range parts {
		for tg, pos := range part {
			if prev, ok := merged[tg]; !ok || pos < prev {
				merged[tg] = pos
			}
		}
	}
	return merged, nil
}

func collect(runes []rune, start, end int) Set {
	set := make(Set)
	for i := start; i < end; i++ {
		tg := string(runes[i : i+Size])
		if _, ok := set[tg]; !ok {
			set[tg] = i
		}
	}
	return set
}
