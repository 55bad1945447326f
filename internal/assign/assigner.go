// Package assign implements deterministic-given-seed weighted variant
// assignment with sticky-session semantics.
//
// Candidate variants are plain keys optionally carrying an integer weight
// suffix, e.g. "checkout_blue[80]". Unweighted or unparsable keys count as
// weight 1. A visitor who already saw a variant keeps it for as long as the
// candidate set still contains that variant.
package assign

import (
	"math/rand"
	"regexp"
	"strconv"
)

var weightPattern = regexp.MustCompile(`\[(\d+)\]`)

// Weight extracts the integer weight tag from a variant key.
// Keys without a parsable tag have weight 1.
func Weight(variant string) int {
	matches := weightPattern.FindStringSubmatch(variant)
	if matches == nil {
		return 1
	}
	weight, err := strconv.Atoi(matches[1])
	if err != nil {
		return 1
	}
	return weight
}

// Assign picks a variant key from candidates.
//
// If prior names a variant still present in candidates it is returned
// unchanged, so a visitor is never reassigned mid-experiment. Otherwise the
// pick is a uniform draw from a pool where each candidate appears once per
// weight unit. A total weight of zero (every candidate tagged "[0]") falls
// back to treating all candidates as weight 1 so some variant is always
// returned. Empty candidates return "".
//
// Assign is a pure function of its inputs and rng; it has no side effects.
func Assign(candidates []string, prior string, rng *rand.Rand) string {
	if len(candidates) == 0 {
		return ""
	}

	if prior != "" {
		for _, candidate := range candidates {
			if candidate == prior {
				return prior
			}
		}
	}

	var pool []string
	for _, candidate := range candidates {
		for i := 0; i < Weight(candidate); i++ {
			pool = append(pool, candidate)
		}
	}

	// All-zero weights: fall back to a uniform draw over every candidate.
	if len(pool) == 0 {
		pool = append(pool, candidates...)
	}

	rng.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	return pool[0]
}
