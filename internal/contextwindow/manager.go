// Package contextwindow implements the token-budget selection and
// compression algorithm for conversation message lists.
package contextwindow

import (
	"sort"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/model"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
	"github.com/consilium-ai/orchestration-engine/pkg/metrics"
)

// Config controls selection and compression behavior.
type Config struct {
	// Model selects the tokenizer (e.g. "gpt-4o").
	Model string
	// ContextWindow is the model's context size in tokens.
	ContextWindow int
	// CompressionThreshold is the fraction of the budget that triggers
	// trimming. Defaults to 0.8.
	CompressionThreshold float64
	// PreserveSystemPrompt keeps all system-role messages when selecting.
	PreserveSystemPrompt bool
	// PreserveRecentMessages is the number of recent exchanges (one user +
	// one assistant turn each) always kept verbatim.
	PreserveRecentMessages int
	// SummaryImportance is assigned to synthetic summary messages.
	SummaryImportance float64
}

// DefaultConfig returns the standard context window policy.
func DefaultConfig() Config {
	return Config{
		Model:                  "gpt-4o",
		ContextWindow:          128000,
		CompressionThreshold:   0.8,
		PreserveSystemPrompt:   true,
		PreserveRecentMessages: 5,
		SummaryImportance:      0.6,
	}
}

// Manager selects and compresses message lists to fit a token budget.
type Manager struct {
	cfg        Config
	enc        *tiktoken.Tiktoken
	summarizer Summarizer
	log        *logger.Logger
}

// New creates a manager. Tokenizer resolution is best-effort: if no encoder
// can be loaded for the model, counting falls back to a character estimate
// and never errors. A nil summarizer gets the local truncating fallback.
func New(cfg Config, summarizer Summarizer, log *logger.Logger) *Manager {
	if cfg.CompressionThreshold <= 0 || cfg.CompressionThreshold > 1 {
		cfg.CompressionThreshold = 0.8
	}
	if cfg.PreserveRecentMessages <= 0 {
		cfg.PreserveRecentMessages = DefaultConfig().PreserveRecentMessages
	}
	if cfg.SummaryImportance <= 0 {
		cfg.SummaryImportance = DefaultConfig().SummaryImportance
	}
	if summarizer == nil {
		summarizer = TruncatingSummarizer{}
	}

	enc, err := tiktoken.EncodingForModel(cfg.Model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn("no tokenizer available, using character estimate",
				zap.String("model", cfg.Model),
				zap.Error(err),
			)
			enc = nil
		}
	}

	return &Manager{cfg: cfg, enc: enc, summarizer: summarizer, log: log}
}

// CountTokens returns the token count for text. It never fails: when no
// encoder is available the deterministic ceil(len/4) estimate is used.
func (m *Manager) CountTokens(text string) int {
	if m.enc != nil {
		return len(m.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// messageTokens honors a caller-supplied token count when present.
func (m *Manager) messageTokens(msg model.Message) int {
	if msg.Tokens > 0 {
		return msg.Tokens
	}
	return m.CountTokens(msg.Content)
}

// TotalTokens sums the token counts of messages.
func (m *Manager) TotalTokens(messages []model.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.messageTokens(msg)
	}
	return total
}

// Select returns the subset of messages that fits the token budget after
// reserving reservedTokens. System messages and the most recent exchanges
// are always kept; the middle is filled greedily by importance, tie-broken
// by recency, and the result is returned in chronological order.
func (m *Manager) Select(messages []model.Message, reservedTokens int) []model.Message {
	threshold := int(float64(m.cfg.ContextWindow-reservedTokens) * m.cfg.CompressionThreshold)
	if threshold < 0 {
		threshold = 0
	}

	total := m.TotalTokens(messages)
	if total <= threshold {
		return messages
	}

	type indexed struct {
		idx int
		msg model.Message
	}

	var kept []indexed
	used := 0

	var nonSystem []indexed
	for i, msg := range messages {
		if msg.Role == model.RoleSystem {
			if m.cfg.PreserveSystemPrompt {
				kept = append(kept, indexed{i, msg})
				used += m.messageTokens(msg)
			}
			continue
		}
		nonSystem = append(nonSystem, indexed{i, msg})
	}

	// The recency floor: one exchange is a user turn plus an assistant turn.
	recentCount := m.cfg.PreserveRecentMessages * 2
	if recentCount > len(nonSystem) {
		recentCount = len(nonSystem)
	}
	recentStart := len(nonSystem) - recentCount
	for _, im := range nonSystem[recentStart:] {
		kept = append(kept, im)
		used += m.messageTokens(im.msg)
	}

	middle := append([]indexed(nil), nonSystem[:recentStart]...)
	sort.SliceStable(middle, func(i, j int) bool {
		if middle[i].msg.Importance != middle[j].msg.Importance {
			return middle[i].msg.Importance > middle[j].msg.Importance
		}
		return middle[i].idx > middle[j].idx
	})

	for _, im := range middle {
		tokens := m.messageTokens(im.msg)
		if used+tokens > threshold {
			break
		}
		kept = append(kept, im)
		used += tokens
	}

	// Selection order must never leak into output order.
	sort.Slice(kept, func(i, j int) bool { return kept[i].idx < kept[j].idx })

	out := make([]model.Message, len(kept))
	for i, im := range kept {
		out[i] = im.msg
	}

	metrics.ContextTokensSelected.Observe(float64(used))
	return out
}
