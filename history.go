package console

// TruncateHistory trims a conversation to the most recent messages that fit
// both limits. The message limit is applied first, then the token limit, and
// the oldest entries go first. Messages that never reached the backend
// (pending, failed, canceled) are dropped before counting.
func TruncateHistory(history []Message, tokenLimit, messageLimit int) []Message {
	if len(history) == 0 {
		return history
	}

	kept := make([]Message, 0, len(history))
	for _, msg := range history {
		switch msg.Status {
		case StatusPending, StatusFailed, StatusCanceled, StatusRetrying:
			continue
		}
		kept = append(kept, msg)
	}

	if messageLimit > 0 && len(kept) > messageLimit {
		kept = kept[len(kept)-messageLimit:]
	}

	total := HistoryTokens(kept)
	for tokenLimit > 0 && total > tokenLimit && len(kept) > 0 {
		total -= EstimateTokens(kept[0].Content)
		kept = kept[1:]
	}

	return kept
}

// HistoryTokens returns the estimated token count of all message contents.
func HistoryTokens(history []Message) int {
	total := 0
	for _, msg := range history {
		total += EstimateTokens(msg.Content)
	}
	return total
}
