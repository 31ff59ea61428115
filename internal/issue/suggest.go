// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// maxSuggestions bounds the "did you mean" list.
const maxSuggestions = 3

// DidYouMean returns up to three candidates that fuzzily match input, best
// match first. Matching ignores case.
func DidYouMean(input string, candidates []string) []string {
	if input == "" || len(candidates) == 0 {
		return nil
	}
	folded := make([]string, len(candidates))
	for i, c := range candidates {
		folded[i] = strings.ToLower(c)
	}
	matches := fuzzy.Find(strings.ToLower(input), folded)
	sort.Stable(matches)

	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, candidates[m.Index])
	}
	return out
}
