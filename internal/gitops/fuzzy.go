package gitops

import (
	"strings"
)

// Fuzzy matching for the aider strategy: candidate windows slide over
// line starts, and the best window by normalized Levenshtein
// similarity wins. Ties break toward the earliest window.

// fuzzyMatch locates the substring of content most similar to search.
// Returns the byte range and similarity of the best candidate, or
// ok=false for empty inputs.
func fuzzyMatch(content, search string) (start, end int, similarity float64, ok bool) {
	if content == "" || search == "" {
		return 0, 0, 0, false
	}

	// Exact occurrence short-circuits the scan.
	if idx := strings.Index(content, search); idx >= 0 {
		return idx, idx + len(search), 1.0, true
	}

	searchLines := strings.Count(search, "\n") + 1
	starts := lineStarts(content)

	best := -1.0
	bestStart, bestEnd := 0, 0
	for _, s := range starts {
		e := endOfLines(content, s, searchLines)
		candidate := content[s:e]
		sim := levenshteinSimilarity(candidate, search)
		if sim > best {
			best = sim
			bestStart, bestEnd = s, e
		}
	}
	if best < 0 {
		return 0, 0, 0, false
	}
	return bestStart, bestEnd, best, true
}

// lineStarts returns the byte offset of every line start in content.
func lineStarts(content string) []int {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' && i+1 < len(content) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// endOfLines returns the offset just past n lines starting at start,
// excluding the trailing newline so candidates align with the search
// text's own line shape.
func endOfLines(content string, start, n int) int {
	i := start
	for ; n > 0 && i < len(content); n-- {
		nl := strings.IndexByte(content[i:], '\n')
		if nl < 0 {
			return len(content)
		}
		i += nl + 1
	}
	if i > start && i <= len(content) && i-1 >= 0 && content[i-1] == '\n' {
		return i - 1
	}
	return i
}

// levenshteinSimilarity is 1 - dist/maxLen over runes, in [0,1].
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0.0
	}

	// Single-row DP.
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1.0 - float64(prev[lb])/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
