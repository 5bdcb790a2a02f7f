package contextwindow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/metrics"
)

// Summarizer condenses a conversation segment into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// TruncatingSummarizer is the deterministic local fallback: it keeps the
// head of the segment. Used when no LLM summarizer is configured or the
// configured one fails.
type TruncatingSummarizer struct {
	// MaxChars bounds the excerpt; zero means 400.
	MaxChars int
}

// Summarize returns a truncated excerpt of the text.
func (t TruncatingSummarizer) Summarize(_ context.Context, text string) (string, error) {
	max := t.MaxChars
	if max <= 0 {
		max = 400
	}
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text, nil
	}
	return text[:max] + "…", nil
}

// Compress replaces older conversation segments with synthetic summary
// messages when the total exceeds the compression threshold. System
// messages and the recent tail are preserved verbatim; the output keeps the
// summaries ahead of the recent tail in chronological relationship.
func (m *Manager) Compress(ctx context.Context, messages []model.Message) ([]model.Message, error) {
	threshold := int(float64(m.cfg.ContextWindow) * m.cfg.CompressionThreshold)
	if m.TotalTokens(messages) <= threshold {
		return messages, nil
	}

	metrics.ContextCompressions.Inc()

	var systems, nonSystem []model.Message
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			systems = append(systems, msg)
		} else {
			nonSystem = append(nonSystem, msg)
		}
	}

	recentCount := m.cfg.PreserveRecentMessages * 2
	if recentCount > len(nonSystem) {
		recentCount = len(nonSystem)
	}
	split := len(nonSystem) - recentCount
	older := nonSystem[:split]
	recent := nonSystem[split:]

	summaries, err := m.summarizeSegments(ctx, older)
	if err != nil {
		return nil, err
	}

	out := make([]model.Message, 0, len(systems)+len(summaries)+len(recent))
	out = append(out, systems...)
	out = append(out, summaries...)
	out = append(out, recent...)
	return out, nil
}

// summarizeSegments groups older messages into user/assistant pair segments
// and replaces each with one system-role summary message.
func (m *Manager) summarizeSegments(ctx context.Context, older []model.Message) ([]model.Message, error) {
	var summaries []model.Message
	for start := 0; start < len(older); start += 2 {
		end := start + 2
		if end > len(older) {
			end = len(older)
		}
		segment := older[start:end]

		var b strings.Builder
		for _, msg := range segment {
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
		}

		summary, err := m.summarizer.Summarize(ctx, b.String())
		if err != nil {
			// Summarization failure degrades to a local excerpt rather than
			// failing the whole compression.
			m.log.Warn("summarizer failed, truncating segment", zap.Error(err))
			summary, _ = TruncatingSummarizer{}.Summarize(ctx, b.String())
		}

		msg := model.Message{
			Role:       model.RoleSystem,
			Content:    "[Conversation summary] " + summary,
			Importance: m.cfg.SummaryImportance,
		}
		if ts := segment[0].Timestamp; ts != nil {
			msg.Timestamp = ts
		}
		summaries = append(summaries, msg)
	}
	return summaries, nil
}
