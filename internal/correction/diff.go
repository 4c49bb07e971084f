package correction

import "strings"

type anchor struct{ a, b int }

type span struct {
	before []string
	after  []string
}

// commonTokens returns the longest common subsequence of a and b as index
// pairs in order. Dictated utterances are short enough for the quadratic
// table.
func commonTokens(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	out := make([]anchor, dp[m][n])
	i, j, k := m, n, len(out)-1
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			out[k] = anchor{i - 1, j - 1}
			i, j, k = i-1, j-1, k-1
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return out
}

// segments splits a and b into alternating unchanged tokens and change spans.
// Unchanged tokens are returned as spans with equal before and after.
func segments(a, b []string) []span {
	var out []span
	ai, bi := 0, 0
	for _, an := range commonTokens(a, b) {
		if ai < an.a || bi < an.b {
			out = append(out, span{before: a[ai:an.a], after: b[bi:an.b]})
		}
		out = append(out, span{before: a[an.a : an.a+1], after: b[an.b : an.b+1]})
		ai, bi = an.a+1, an.b+1
	}
	if ai < len(a) || bi < len(b) {
		out = append(out, span{before: a[ai:], after: b[bi:]})
	}
	return out
}

func (s span) changed() bool {
	return strings.Join(s.before, " ") != strings.Join(s.after, " ")
}

// trimPunct drops surrounding punctuation but keeps case, so only the exact
// configured spelling counts as a vocabulary word.
func trimPunct(s string) string {
	return strings.Trim(s, ".,;:!?\"'()«»“”")
}

// protectVocabulary reverts every edit the model made to a span that already
// carried a vocabulary word, so configured spellings survive the correction
// pass. It returns the merged text and the number of edits kept. When
// nothing is reverted the reply is returned untouched, line breaks included.
func protectVocabulary(before, after string, words []string) (string, int) {
	a, b := strings.Fields(before), strings.Fields(after)
	protected := make(map[string]bool)
	for _, w := range words {
		for _, t := range strings.Fields(w) {
			protected[trimPunct(t)] = true
		}
	}

	var out []string
	edits, reverted := 0, false
	for _, s := range segments(a, b) {
		if !s.changed() {
			out = append(out, s.after...)
			continue
		}
		if touchesProtected(s.before, protected) && !keepsProtected(s, protected) {
			out = append(out, s.before...)
			reverted = true
			continue
		}
		out = append(out, s.after...)
		edits++
	}
	if !reverted {
		return after, edits
	}
	return strings.Join(out, " "), edits
}

func touchesProtected(tokens []string, protected map[string]bool) bool {
	for _, t := range tokens {
		if protected[trimPunct(t)] {
			return true
		}
	}
	return false
}

// keepsProtected reports whether every protected token in the span's before
// side is still present, ignoring punctuation, after the edit.
func keepsProtected(s span, protected map[string]bool) bool {
	kept := make(map[string]bool, len(s.after))
	for _, t := range s.after {
		kept[trimPunct(t)] = true
	}
	for _, t := range s.before {
		if protected[trimPunct(t)] && !kept[trimPunct(t)] {
			return false
		}
	}
	return true
}
