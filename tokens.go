package console

// EstimateTokens estimates the token count of text with a Unicode-aware heuristic.
// ASCII runes weigh ~4 per token; anything else (CJK, Cyrillic, emoji) ~1 per token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
