package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/assistant"
	"docqa/internal/textutil"
)

// Asker is the TUI-facing subset of the assistant.
type Asker interface {
	Ask(ctx context.Context, query string) string
}

type exchange struct {
	question string
	answer   string
}

// answerMsg carries the reply to the question in flight.
type answerMsg struct {
	answer string
}

// Model is the Bubble Tea model for the chat window.
type Model struct {
	ctx        context.Context
	asker      Asker
	input      textinput.Model
	viewport   viewport.Model
	spinner    spinner.Model
	transcript []exchange
	summary    string
	status     string
	pending    bool
	ready      bool
}

// New creates a chat model. summary is shown under the title.
func New(ctx context.Context, asker Asker, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about your documents and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	return Model{
		ctx:      ctx,
		asker:    asker,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		summary:  summary,
		status:   "Ready. Ctrl+C to quit.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// askCmd answers q off the UI loop.
func askCmd(ctx context.Context, asker Asker, q string) tea.Cmd {
	return func() tea.Msg {
		return answerMsg{answer: asker.Ask(ctx, q)}
	}
}

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around transcript and query boxes
		_, th := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-th)
		m.refresh()
		return m, nil
	case answerMsg:
		m.pending = false
		if n := len(m.transcript); n > 0 {
			m.transcript[n-1].answer = msg.answer
		}
		m.status = "Ready. Ctrl+C to quit."
		m.refresh()
		return m, nil
	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.status = m.spinner.View() + " Thinking..."
		return m, cmd
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.pending {
				m.status = "Still answering the previous question..."
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if q == "" {
				m.transcript = append(m.transcript, exchange{answer: assistant.UsageHint})
				m.refresh()
				return m, nil
			}
			m.transcript = append(m.transcript, exchange{question: q})
			m.pending = true
			m.status = m.spinner.View() + " Thinking..."
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, askCmd(m.ctx, m.asker, q))
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the chat layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Q&A")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return "No questions yet."
	}
	width := max(10, m.viewport.Width-4)
	wrap := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	for i, ex := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if ex.question != "" {
			b.WriteString(youStyle.Render("You: "))
			b.WriteString(wrap.Render(ex.question))
			b.WriteString("\n")
		}
		b.WriteString(botStyle.Render("Assistant: "))
		if ex.answer == "" {
			b.WriteString("...")
			continue
		}
		b.WriteString(wrap.Render(highlightBestSentence(ex.answer, ex.question)))
	}
	return b.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	youStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

// highlightBestSentence emphasises the sentence of text sharing the most
// terms with query. The rest of text is returned as is.
func highlightBestSentence(text, query string) string {
	qTokens := toTokenSet(query)
	sentences := textutil.Sentences(text)
	if len(qTokens) == 0 || len(sentences) < 2 {
		return text
	}
	best, bestAt, bestScore := "", -1, 0
	offset := 0
	for _, sent := range sentences {
		i := strings.Index(text[offset:], sent)
		if i < 0 {
			return text
		}
		start := offset + i
		offset = start + len(sent)
		if score := tokenOverlapScore(qTokens, sent); score > bestScore {
			best, bestAt, bestScore = sent, start, score
		}
	}
	if bestAt < 0 {
		return text
	}
	return text[:bestAt] + highlightStyle.Render(best) + text[bestAt+len(best):]
}

func toTokenSet(s string) map[string]struct{} {
	tokens := textutil.Terms(s)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range textutil.Terms(sentence) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
