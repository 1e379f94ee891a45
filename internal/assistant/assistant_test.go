package assistant

import (
	"context"
	"errors"
	"testing"
)

type answererFunc func(ctx context.Context, q string) (string, error)

func (f answererFunc) Answer(ctx context.Context, q string) (string, error) { return f(ctx, q) }

func TestAsk(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		reply     string
		err       error
		want      string
		wantCalls int
	}{
		{"blank", "   \t\n", "", nil, UsageHint, 0},
		{"empty", "", "", nil, UsageHint, 0},
		{"answered", " What is PM Accelerator? ", "A program.", nil, "A program.", 1},
		{"failed", "What is PM Accelerator?", "", errors.New("no answer generated"), Apology, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			a := New(answererFunc(func(_ context.Context, q string) (string, error) {
				calls++
				if q != "What is PM Accelerator?" {
					t.Errorf("query not trimmed: %q", q)
				}
				return tc.reply, tc.err
			}), nil)
			if got := a.Ask(context.Background(), tc.query); got != tc.want {
				t.Fatalf("Ask() = %q, want %q", got, tc.want)
			}
			if calls != tc.wantCalls {
				t.Fatalf("answerer called %d times, want %d", calls, tc.wantCalls)
			}
		})
	}
}
