// Package prefix models the search prefix tree: an alphabet, the children of
// a node, and the split of root prefixes across workers.
package prefix

import (
	"fmt"
	"strings"
)

// Alphabet is an ordered set of characters used to seed and extend prefixes.
type Alphabet []rune

// NewAlphabet builds an Alphabet from a string, rejecting empty input and
// repeated characters.
func NewAlphabet(chars string) (Alphabet, error) {
	if chars == "" {
		return nil, fmt.Errorf("alphabet is empty")
	}
	seen := make(map[rune]bool)
	a := make(Alphabet, 0, len(chars))
	for _, r := range chars {
		if seen[r] {
			return nil, fmt.Errorf("alphabet repeats %q", r)
		}
		seen[r] = true
		a = append(a, r)
	}
	return a, nil
}

// Roots returns the single-character prefixes in alphabet order.
func (a Alphabet) Roots() []string {
	roots := make([]string, len(a))
	for i, r := range a {
		roots[i] = string(r)
	}
	return roots
}

// Children returns the one-character extensions of p in alphabet order.
func (a Alphabet) Children(p string) []string {
	children := make([]string, len(a))
	for i, r := range a {
		children[i] = p + string(r)
	}
	return children
}

// String returns the alphabet as a string.
func (a Alphabet) String() string {
	return string(a)
}

// Partition splits the root prefixes into n contiguous groups whose sizes
// differ by at most one. Earlier groups take the remainder.
func (a Alphabet) Partition(n int) ([][]string, error) {
	roots := a.Roots()
	if n <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", n)
	}
	if n > len(roots) {
		return nil, fmt.Errorf("cannot split %d roots into %d groups", len(roots), n)
	}

	groups := make([][]string, 0, n)
	size, extra := len(roots)/n, len(roots)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		groups = append(groups, roots[start:end])
		start = end
	}
	return groups, nil
}

// Depth is the tree depth of p: roots are at depth 0.
func Depth(p string) int {
	n := len([]rune(p))
	if n == 0 {
		return 0
	}
	return n - 1
}

// Ancestors returns the proper ancestors of p, shortest first.
func Ancestors(p string) []string {
	runes := []rune(p)
	out := make([]string, 0, len(runes))
	for i := 1; i < len(runes); i++ {
		out = append(out, string(runes[:i]))
	}
	return out
}

// Disjoint reports an error when any prefix in groups equals or extends a
// prefix of another group, since overlapping subtrees would be crawled twice.
func Disjoint(groups [][]string) error {
	owner := make(map[string]int)
	for gi, group := range groups {
		for _, p := range group {
			for other, og := range owner {
				if strings.HasPrefix(p, other) || strings.HasPrefix(other, p) {
					return fmt.Errorf("prefix %q in group %d overlaps %q in group %d", p, gi, other, og)
				}
			}
			owner[p] = gi
		}
	}
	return nil
}
