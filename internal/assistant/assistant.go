// Package assistant turns raw user input into the reply shown to the user.
package assistant

import (
	"context"
	"log/slog"
	"strings"
)

const (
	UsageHint = "❓ Please provide a question. Usage: `ask <your question>`"
	Apology   = "❌ Sorry, I couldn't generate an answer right now. Please try again later."
)

// Answerer answers a non-empty question.
type Answerer interface {
	Answer(ctx context.Context, query string) (string, error)
}

type Assistant struct {
	answerer Answerer
	logger   *slog.Logger
}

func New(a Answerer, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{answerer: a, logger: logger}
}

// Ask never fails: a blank query gets the usage hint and any error gets the apology.
func (a *Assistant) Ask(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return UsageHint
	}
	answer, err := a.answerer.Answer(ctx, query)
	if err != nil {
		a.logger.Warn("answer failed", "err", err)
		return Apology
	}
	return answer
}
