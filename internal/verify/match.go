package verify

import "strings"

// DefaultTolerance is the maximum per-word edit distance accepted when
// matching a transcript. One edit absorbs the typical transcription slip
// ("ecko" for "echo") without accepting a materially different word.
const DefaultTolerance = 1

// Matches reports whether a spoken transcript matches the expected phrase.
// The transcript is case-folded and split on whitespace; the match succeeds
// only if the token count equals the phrase length and every token is within
// tolerance edits of the expected word at the same position. Word order is
// significant: this is deliberately not a set comparison, so a caller who was
// merely told the words out of order does not pass.
func Matches(spoken string, expected []string, tolerance int) bool {
	tokens := strings.Fields(strings.ToLower(spoken))
	if len(tokens) != len(expected) {
		return false
	}
	for i, token := range tokens {
		if Levenshtein(token, strings.ToLower(expected[i])) > tolerance {
			return false
		}
	}
	return true
}

// Levenshtein returns the minimum number of single-character insertions,
// deletions, and substitutions needed to transform a into b, computed with
// the standard dynamic-programming recurrence over two rolling rows. The
// strings are compared rune-wise so an accented character counts as one
// edit, not one per UTF-8 byte.
func Levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
