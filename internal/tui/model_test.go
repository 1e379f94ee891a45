package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"docqa/internal/assistant"
)

type stubAsker struct{ asked []string }

func (s *stubAsker) Ask(_ context.Context, q string) string {
	s.asked = append(s.asked, q)
	return "PM Accelerator is a program. It meets weekly."
}

func send(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return mm, cmd
}

func ready(t *testing.T, asker Asker) Model {
	m := New(context.Background(), asker, "3 documents indexed")
	m, _ = send(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	return m
}

func TestEnter_BlankShowsUsageWithoutAsking(t *testing.T) {
	asker := &stubAsker{}
	m := ready(t, asker)
	m.input.SetValue("   ")
	m, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Fatal("blank input must not start a question")
	}
	if m.pending || len(asker.asked) != 0 {
		t.Fatal("blank input must not reach the assistant")
	}
	if len(m.transcript) != 1 || m.transcript[0].answer != assistant.UsageHint {
		t.Fatalf("transcript = %+v", m.transcript)
	}
}

func TestEnter_OneQuestionInFlight(t *testing.T) {
	asker := &stubAsker{}
	m := ready(t, asker)
	m.input.SetValue("What is PM Accelerator?")
	m, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil || !m.pending {
		t.Fatal("expected a question to be in flight")
	}
	if m.input.Value() != "" {
		t.Fatal("input should be cleared after submit")
	}

	m.input.SetValue("second question")
	m, cmd = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || len(m.transcript) != 1 {
		t.Fatal("a second question must wait for the first answer")
	}

	m, _ = send(t, m, answerMsg{answer: "PM Accelerator is a program."})
	if m.pending {
		t.Fatal("answer should clear the pending state")
	}
	if got := m.transcript[0]; got.question != "What is PM Accelerator?" || got.answer != "PM Accelerator is a program." {
		t.Fatalf("transcript[0] = %+v", got)
	}
	if !strings.Contains(m.View(), "Document Q&A") {
		t.Fatal("view should render the header")
	}
}

func TestAskCmd(t *testing.T) {
	asker := &stubAsker{}
	msg := askCmd(context.Background(), asker, "What is PM Accelerator?")()
	am, ok := msg.(answerMsg)
	if !ok || !strings.HasPrefix(am.answer, "PM Accelerator") {
		t.Fatalf("askCmd() = %#v", msg)
	}
	if len(asker.asked) != 1 {
		t.Fatalf("asked = %v", asker.asked)
	}
}

func TestHighlightBestSentence(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		query string
		keep  []string
	}{
		{"two_sentences", "Lunch is at noon. PM Accelerator trains product managers.", "What is PM Accelerator?",
			[]string{"Lunch is at noon.", "PM Accelerator trains product managers."}},
		{"unterminated_tail", "Lunch is at noon. PM Accelerator is a program. Contact Anil Thomas on discord", "What is PM Accelerator?",
			[]string{"Lunch is at noon.", "PM Accelerator is a program.", "Contact Anil Thomas on discord"}},
		{"single_sentence_with_tail", "PM Accelerator is a program. Contact Anil Thomas on discord", "What is PM Accelerator?",
			[]string{"PM Accelerator is a program. Contact Anil Thomas on discord"}},
		{"no_overlap", "Lunch is at noon. Dinner is at six", "What is PM Accelerator?",
			[]string{"Lunch is at noon. Dinner is at six"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := highlightBestSentence(tc.text, tc.query)
			for _, k := range tc.keep {
				if !strings.Contains(got, k) {
					t.Fatalf("%q lost from %q", k, got)
				}
			}
		})
	}
	if got := highlightBestSentence(assistant.UsageHint, ""); got != assistant.UsageHint {
		t.Fatalf("usage hint changed: %q", got)
	}
	if got := highlightBestSentence("Only one sentence.", "one"); got != "Only one sentence." {
		t.Fatalf("single sentence should be returned as is, got %q", got)
	}
}

func TestRenderTranscript_KeepsUsageHint(t *testing.T) {
	m := ready(t, &stubAsker{})
	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if out := m.renderTranscript(); !strings.Contains(out, "`ask <your question>`") {
		t.Fatalf("usage hint truncated:\n%s", out)
	}
}
