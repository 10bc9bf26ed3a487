package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wardenhq/warden/internal/llm"
)

const (
	// BufferWindow is the number of stored messages included in buffer-mode
	// context (five user/assistant exchanges).
	BufferWindow = 10

	// SummaryHistoryWindow is the number of stored messages fed to the
	// summarizer when regenerating a running summary.
	SummaryHistoryWindow = 20

	// Summarization parameters. Low temperature keeps the summary stable
	// across regenerations.
	summaryTemperature = 0.1
	summaryMaxTokens   = 300

	summarySystemPrompt = "You are a helpful assistant. Summarize the following conversation concisely, preserving key facts, lists, and context."

	lockStripes = 64
)

// Masker redacts PII spans in text before persistence.
type Masker interface {
	Apply(ctx context.Context, text string) (string, int)
}

// Context is the memory contribution to a prompt.
type Context struct {
	Kind Mode
	Text string // formatted history or summary; empty when nothing is stored
}

// Manager coordinates reads and writes of per-tenant conversation memory.
// Writes for the same tenant are serialized through striped locks so
// concurrent sessions cannot interleave a buffer append with a summary
// regeneration.
type Manager struct {
	store    *Store
	masker   Masker
	provider llm.Provider
	model    string
	locks    [lockStripes]sync.Mutex
}

// NewManager creates a memory manager. The provider may be nil, in which
// case switching into summary mode fails while history is stored.
func NewManager(store *Store, masker Masker, provider llm.Provider, model string) *Manager {
	return &Manager{store: store, masker: masker, provider: provider, model: model}
}

func (m *Manager) lockFor(tenant string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(tenant))
	return &m.locks[h.Sum32()%lockStripes]
}

// Mode returns the tenant's current memory mode.
func (m *Manager) Mode(ctx context.Context, tenant string) (Mode, error) {
	return m.store.ModeFor(ctx, tenant)
}

// SetMode switches the tenant's memory mode. Switching into summary mode
// generates the summary from the stored buffer synchronously, before the new
// mode is persisted: if generation fails the switch fails and the prior mode
// stays in effect.
func (m *Manager) SetMode(ctx context.Context, tenant string, mode Mode) error {
	mu := m.lockFor(tenant)
	mu.Lock()
	defer mu.Unlock()

	previous, err := m.store.ModeFor(ctx, tenant)
	if err != nil {
		return err
	}
	if mode == ModeSummary && previous != ModeSummary {
		if err := m.regenerateSummary(ctx, tenant); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenant).Msg("summary_generation_failed")
			return fmt.Errorf("switching to summary mode: %w", err)
		}
	}
	return m.store.SetMode(ctx, tenant, mode)
}

// Context assembles the memory contribution for the tenant's next prompt.
func (m *Manager) Context(ctx context.Context, tenant string) (Context, error) {
	ctx, span := tracer.Start(ctx, "memory.context")
	defer span.End()

	mode, err := m.store.ModeFor(ctx, tenant)
	if err != nil {
		return Context{}, err
	}
	span.SetAttributes(attribute.String("memory.mode", string(mode)))

	switch mode {
	case ModeNone:
		return Context{Kind: ModeNone}, nil
	case ModeBuffer:
		turns, err := m.store.RecentTurns(ctx, tenant, BufferWindow)
		if err != nil {
			return Context{}, err
		}
		return Context{Kind: ModeBuffer, Text: formatTurns(turns)}, nil
	case ModeSummary:
		summary, err := m.store.Summary(ctx, tenant)
		if err != nil {
			return Context{}, err
		}
		if summary == "" {
			return Context{Kind: ModeSummary}, nil
		}
		return Context{Kind: ModeSummary, Text: "Summary of previous conversation:\n" + summary}, nil
	}
	return Context{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// Record persists one completed exchange. Both sides are redacted before
// they touch disk. In summary mode the running summary is regenerated
// afterwards; if that fails the buffer still holds the turn and the stale
// summary remains until the next successful regeneration.
func (m *Manager) Record(ctx context.Context, tenant, userText, assistantText string) error {
	ctx, span := tracer.Start(ctx, "memory.record")
	defer span.End()

	mu := m.lockFor(tenant)
	mu.Lock()
	defer mu.Unlock()

	mode, err := m.store.ModeFor(ctx, tenant)
	if err != nil {
		return err
	}
	if mode == ModeNone {
		return nil
	}

	maskedUser, _ := m.masker.Apply(ctx, userText)
	maskedAssistant, _ := m.masker.Apply(ctx, assistantText)

	if err := m.store.AppendTurn(ctx, tenant, "user", maskedUser); err != nil {
		return err
	}
	if err := m.store.AppendTurn(ctx, tenant, "assistant", maskedAssistant); err != nil {
		return err
	}

	// Evict beyond the mode's window so stored history stays bounded.
	keep := BufferWindow
	if mode == ModeSummary {
		keep = SummaryHistoryWindow
	}
	if err := m.store.TrimTurns(ctx, tenant, keep); err != nil {
		return err
	}

	if mode == ModeSummary {
		if err := m.regenerateSummary(ctx, tenant); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenant).Msg("summary_generation_failed")
		}
	}
	return nil
}

// Clear wipes the tenant's stored history and summary.
func (m *Manager) Clear(ctx context.Context, tenant string) error {
	mu := m.lockFor(tenant)
	mu.Lock()
	defer mu.Unlock()
	return m.store.Clear(ctx, tenant)
}

// regenerateSummary rebuilds the tenant's running summary from the stored
// buffer. Callers must hold the tenant lock.
func (m *Manager) regenerateSummary(ctx context.Context, tenant string) error {
	turns, err := m.store.RecentTurns(ctx, tenant, SummaryHistoryWindow)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	if m.provider == nil {
		return fmt.Errorf("no summarization provider configured")
	}

	resp, err := m.provider.Generate(ctx, &llm.Request{
		Model: m.model,
		Messages: []llm.Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: "Conversation:\n" + formatTurns(turns) + "\n\nProvide a concise summary:"},
		},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("summarizing conversation: %w", err)
	}

	return m.store.SetSummary(ctx, tenant, strings.TrimSpace(resp.Content))
}

// formatTurns renders turns as "User: ..." / "Assistant: ..." lines.
func formatTurns(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		role := strings.ToUpper(t.Role[:1]) + t.Role[1:]
		lines = append(lines, role+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
