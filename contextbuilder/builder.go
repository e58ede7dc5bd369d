package contextbuilder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/internal/util"
	"github.com/hupe1980/agentcouncil/logging"
	"github.com/hupe1980/agentcouncil/model"
)

// Tier headers.
const (
	HeaderFiles    = "[ATTACHED FILES]"
	HeaderMemories = "[RECALLED MEMORIES]"
	HeaderSummary  = "[SESSION SUMMARY]"

	memorySeparator = "\n---\n"
	truncatedNote   = "\n\n[Input truncated to fit the context limit]"
	userLabel       = "User"
)

// Source is the read side of session persistence used by the builder.
// *persistence.Facade satisfies it.
type Source interface {
	GetHistory(ctx context.Context, sessionID string, limit int) []core.Message
	MessageCount(ctx context.Context, sessionID string) int
	Files(ctx context.Context, sessionID string) []core.FileRef
	RecallMemories(ctx context.Context, query, userID string, limit int) []string
	GetSessionSummary(ctx context.Context, sessionID string) (string, int)
	UpdateSessionSummary(ctx context.Context, sessionID, summary string, count int)
}

// Summarizer condenses a transcript into a short summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, transcript string) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

// Options configures a Builder.
type Options struct {
	// Ceiling is the hard limit on total characters across all messages.
	Ceiling int
	// MaxFiles caps the attached file index.
	MaxFiles int
	// RecallLimit is the number of recalled memories (at most MaxRecall).
	RecallLimit int
	// MemoryChars caps each recalled memory.
	MemoryChars int
	// SummaryInterval is the number of new messages that triggers a summary.
	SummaryInterval int
	// SummaryWindow is the number of messages fed to the summarizer.
	SummaryWindow int
	// SummaryChars caps the stored summary.
	SummaryChars int
	// RecentMessages is the number of raw messages included.
	RecentMessages int
	// RecentChars caps each raw message.
	RecentChars int
	// KeepRecent messages are never compressed or stripped of file blocks.
	KeepRecent int
	// CompressedChars is the size of a compressed older message.
	CompressedChars int
	// FenceKeep is the minimum number of characters kept on each side of a
	// truncated code fence.
	FenceKeep int

	Logger logging.Logger
}

// MaxRecall bounds Options.RecallLimit.
const MaxRecall = 5

// Stats describes a built context.
type Stats struct {
	TotalChars         int  `json:"total_chars"`
	Ceiling            int  `json:"ceiling"`
	Files              int  `json:"files"`
	Memories           int  `json:"memories"`
	Summary            bool `json:"summary"`
	SummaryRegenerated bool `json:"summary_regenerated"`
	Recent             int  `json:"recent"`
	Compressed         int  `json:"compressed"`
	FencesTruncated    int  `json:"fences_truncated"`
	InputTruncated     bool `json:"input_truncated"`
	Dropped            int  `json:"dropped"`
}

type summaryEntry struct {
	text  string
	count int
}

// Builder builds agent context for a session.
type Builder struct {
	src        Source
	summarizer Summarizer
	opts       Options
	logger     logging.Logger

	mu        sync.Mutex
	summaries map[string]summaryEntry
}

// New creates a Builder. A nil summarizer disables summary regeneration;
// stored summaries are still used.
func New(src Source, summarizer Summarizer, optFns ...func(o *Options)) *Builder {
	opts := Options{
		Ceiling:         24000,
		MaxFiles:        20,
		RecallLimit:     3,
		MemoryChars:     600,
		SummaryInterval: 10,
		SummaryWindow:   50,
		SummaryChars:    1500,
		RecentMessages:  16,
		RecentChars:     1000,
		KeepRecent:      2,
		CompressedChars: 200,
		FenceKeep:       100,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RecallLimit > MaxRecall {
		opts.RecallLimit = MaxRecall
	}
	return &Builder{
		src:        src,
		summarizer: summarizer,
		opts:       opts,
		logger:     logging.OrNoOp(opts.Logger),
		summaries:  make(map[string]summaryEntry),
	}
}

// entry is a message under construction.
type entry struct {
	msg    model.Message
	recent bool // raw history message
	age    int  // position from the newest recent message, 0 = newest
}

// Build returns the context messages for an agent call. The last message is
// always the current user input.
func (b *Builder) Build(ctx context.Context, sessionID, input, userScope string) ([]model.Message, Stats) {
	stats := Stats{Ceiling: b.opts.Ceiling}
	var entries []entry

	if block := b.fileIndex(ctx, sessionID, &stats); block != "" {
		entries = append(entries, entry{msg: model.Message{Role: core.RoleSystem, Content: block}})
	}
	if block := b.memories(ctx, input, userScope, &stats); block != "" {
		entries = append(entries, entry{msg: model.Message{Role: core.RoleSystem, Content: block}})
	}
	if summary := b.summary(ctx, sessionID, &stats); summary != "" {
		entries = append(entries, entry{msg: model.Message{Role: core.RoleSystem, Content: HeaderSummary + "\n" + summary}})
	}
	entries = append(entries, b.recent(ctx, sessionID, input, &stats)...)

	out := b.enforce(entries, input, &stats)
	stats.TotalChars = model.TotalChars(out)

	b.logger.Debug("Context built",
		"session_id", sessionID,
		"chars", stats.TotalChars,
		"ceiling", stats.Ceiling,
		"recent", stats.Recent,
		"dropped", stats.Dropped,
	)
	return out, stats
}

func (b *Builder) fileIndex(ctx context.Context, sessionID string, stats *Stats) string {
	if sessionID == "" || b.src == nil || b.opts.MaxFiles <= 0 {
		return ""
	}
	files := b.src.Files(ctx, sessionID)
	if len(files) == 0 {
		return ""
	}
	if len(files) > b.opts.MaxFiles {
		files = files[len(files)-b.opts.MaxFiles:]
	}
	var sb strings.Builder
	sb.WriteString(HeaderFiles)
	for _, f := range files {
		fmt.Fprintf(&sb, "\n- %s (%d bytes)", f.Name, f.Size)
	}
	stats.Files = len(files)
	return sb.String()
}

func (b *Builder) memories(ctx context.Context, input, userScope string, stats *Stats) string {
	if b.src == nil || b.opts.RecallLimit <= 0 || strings.TrimSpace(input) == "" {
		return ""
	}
	recalled := b.src.RecallMemories(ctx, input, userScope, b.opts.RecallLimit)
	if len(recalled) == 0 {
		return ""
	}
	parts := make([]string, 0, len(recalled))
	for _, m := range recalled {
		parts = append(parts, util.Ellipsize(m, b.opts.MemoryChars))
	}
	stats.Memories = len(parts)
	return HeaderMemories + "\n" + strings.Join(parts, memorySeparator)
}

// summary returns the session summary, regenerating it once SummaryInterval
// messages have accumulated since the last one.
func (b *Builder) summary(ctx context.Context, sessionID string, stats *Stats) string {
	if sessionID == "" || b.src == nil {
		return ""
	}

	b.mu.Lock()
	cached, ok := b.summaries[sessionID]
	b.mu.Unlock()
	if !ok {
		text, count := b.src.GetSessionSummary(ctx, sessionID)
		cached = summaryEntry{text: text, count: count}
	}

	total := b.src.MessageCount(ctx, sessionID)
	if b.summarizer != nil && b.opts.SummaryInterval > 0 &&
		total >= b.opts.SummaryInterval && total-cached.count >= b.opts.SummaryInterval {
		history := b.src.GetHistory(ctx, sessionID, b.opts.SummaryWindow)
		text, err := b.summarizer.Summarize(ctx, transcript(history, b.opts.RecentChars))
		text = strings.TrimSpace(text)
		switch {
		case err != nil:
			b.logger.Warn("Summary regeneration failed; keeping previous summary", "session_id", sessionID, "error", err)
		case text == "":
			b.logger.Warn("Summary regeneration returned no text", "session_id", sessionID)
		default:
			cached = summaryEntry{text: util.Truncate(text, b.opts.SummaryChars), count: total}
			b.src.UpdateSessionSummary(ctx, sessionID, cached.text, cached.count)
			stats.SummaryRegenerated = true
		}
	}

	b.mu.Lock()
	b.summaries[sessionID] = cached
	b.mu.Unlock()

	stats.Summary = cached.text != ""
	return cached.text
}

// Forget drops the cached summary of a session.
func (b *Builder) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.summaries, sessionID)
	b.mu.Unlock()
}

func (b *Builder) recent(ctx context.Context, sessionID, input string, stats *Stats) []entry {
	if sessionID == "" || b.src == nil || b.opts.RecentMessages <= 0 {
		return nil
	}
	history := b.src.GetHistory(ctx, sessionID, b.opts.RecentMessages+1)
	// The current turn is persisted before the build; skip it.
	if n := len(history); n > 0 && isCurrentTurn(history[n-1], input) {
		history = history[:n-1]
	}
	if len(history) > b.opts.RecentMessages {
		history = history[len(history)-b.opts.RecentMessages:]
	}

	out := make([]entry, 0, len(history))
	for i, m := range history {
		age := len(history) - 1 - i
		content := m.Content
		if age >= b.opts.KeepRecent {
			content = StripFileBlocks(content)
		}
		role := core.RoleUser
		if m.Role == core.RoleAssistant {
			role = core.RoleAssistant
		}
		out = append(out, entry{
			msg:    model.Message{Role: role, Content: label(m) + util.Ellipsize(content, b.opts.RecentChars)},
			recent: true,
			age:    age,
		})
	}
	stats.Recent = len(out)
	return out
}

func isCurrentTurn(m core.Message, input string) bool {
	if m.Role != core.RoleUser {
		return false
	}
	c := strings.TrimSpace(m.Content)
	return c != "" && strings.HasPrefix(strings.TrimSpace(input), c)
}

func label(m core.Message) string {
	name := m.Agent
	if m.Role == core.RoleUser || name == "" {
		name = userLabel
		if m.Role == core.RoleAssistant {
			name = "Assistant"
		}
	}
	return "[" + name + "]: "
}

func transcript(history []core.Message, capChars int) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, label(m)+util.Ellipsize(StripFileBlocks(m.Content), capChars))
	}
	return strings.Join(lines, "\n\n")
}

var fileBlockRe = regexp.MustCompile("(?s)\\[ATTACHED FILE: ([^\\]\\n]+)\\][ \\t]*\\n```[^\\n]*\\n.*?\\n```")

// StripFileBlocks replaces embedded attached-file blocks with a short
// reference to the file index.
func StripFileBlocks(s string) string {
	if !strings.Contains(s, "[ATTACHED FILE:") {
		return s
	}
	return fileBlockRe.ReplaceAllString(s, "[file $1 omitted; see attached files]")
}

// enforce applies the ceiling steps in order until the total fits:
// compress older messages, truncate fences in the input, hard-truncate the
// input, then drop context entries from the oldest.
func (b *Builder) enforce(entries []entry, input string, stats *Stats) []model.Message {
	ceiling := b.opts.Ceiling
	current := input

	total := func() int {
		n := util.Len(current)
		for _, e := range entries {
			n += util.Len(e.msg.Content)
		}
		return n
	}

	if ceiling > 0 && total() > ceiling {
		for i := range entries {
			if entries[i].recent && entries[i].age >= b.opts.KeepRecent && util.Len(entries[i].msg.Content) > b.opts.CompressedChars {
				entries[i].msg.Content = util.Ellipsize(entries[i].msg.Content, b.opts.CompressedChars)
				stats.Compressed++
			}
		}
	}

	if ceiling > 0 && total() > ceiling {
		var n int
		current, n = TruncateFences(current, total()-ceiling, b.opts.FenceKeep)
		stats.FencesTruncated = n
	}

	if ceiling > 0 && total() > ceiling {
		others := total() - util.Len(current)
		allowed := max(ceiling-others, ceiling/2)
		if util.Len(current) > allowed {
			if allowed > util.Len(truncatedNote) {
				current = util.Truncate(current, allowed-util.Len(truncatedNote)) + truncatedNote
			} else {
				current = util.Truncate(current, allowed)
			}
			stats.InputTruncated = true
		}
	}

	for ceiling > 0 && total() > ceiling && len(entries) > 0 {
		entries = entries[1:]
		stats.Dropped++
	}

	out := make([]model.Message, 0, len(entries)+1)
	for _, e := range entries {
		out = append(out, e.msg)
	}
	return append(out, model.Message{Role: core.RoleUser, Content: current})
}

var fenceRe = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)\\n```")

// TruncateFences shortens fenced code blocks in s by about excess characters,
// largest block first, keeping at least keep characters of head and tail per
// block. It returns the new text and the number of truncated blocks.
func TruncateFences(s string, excess, keep int) (string, int) {
	if excess <= 0 {
		return s, 0
	}
	locs := fenceRe.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s, 0
	}

	type block struct {
		start, end int // body byte offsets
		size, cut  int // runes
	}
	blocks := make([]block, len(locs))
	for i, l := range locs {
		blocks[i] = block{start: l[2], end: l[3], size: util.Len(s[l[2]:l[3]])}
	}

	order := make([]int, len(blocks))
	for i := range order {
		order[i] = i
	}
	// largest first; stable for equal sizes
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && blocks[order[j]].size > blocks[order[j-1]].size; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	remaining := excess
	for _, idx := range order {
		if remaining <= 0 {
			break
		}
		bl := &blocks[idx]
		markerLen := util.Len(omitted(bl.size))
		cut := min(remaining+markerLen, bl.size-2*keep)
		if cut <= markerLen {
			continue
		}
		bl.cut = cut
		remaining -= cut - util.Len(omitted(cut))
	}

	var (
		sb    strings.Builder
		prev  int
		count int
	)
	for _, bl := range blocks {
		if bl.cut == 0 {
			continue
		}
		body := s[bl.start:bl.end]
		kept := bl.size - bl.cut
		head := kept / 2
		sb.WriteString(s[prev:bl.start])
		sb.WriteString(util.Truncate(body, head))
		sb.WriteString(omitted(bl.cut))
		sb.WriteString(util.Tail(body, kept-head))
		prev = bl.end
		count++
	}
	sb.WriteString(s[prev:])
	return sb.String(), count
}

func omitted(n int) string {
	return fmt.Sprintf("\n... [%d chars omitted] ...\n", n)
}
