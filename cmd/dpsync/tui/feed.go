package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/events"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// feedEntry is one line of the event feed.
type feedEntry struct {
	Time   time.Time
	Level  logging.Level
	Target string
	Text   string
}

// describe turns a daemon event into a feed line. Progress ticks are not
// shown and return false.
func describe(rec events.Record) (feedEntry, bool) {
	e := feedEntry{Time: rec.Time, Level: logging.LevelInfo, Target: rec.Target}

	switch rec.Kind {
	case events.KindTargetAttached:
		var ev events.TargetAttached
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Text = fmt.Sprintf("attached at %s, %s free", ev.Path, types.FormatSize(ev.Free))
	case events.KindTargetDetached:
		var ev events.TargetDetached
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Text = "detached"
		if ev.Abrupt {
			e.Level = logging.LevelWarn
			e.Text = "removed while syncing"
		}
	case events.KindTargetFailed:
		var ev events.TargetFailed
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Level = logging.LevelError
		e.Text = "not usable: " + ev.Reason
	case events.KindTargetState, events.KindStateChanged:
		var ev events.StateChanged
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Level = logging.LevelDebug
		e.Text = fmt.Sprintf("%s -> %s", ev.From, ev.To)
		if rec.Kind == events.KindTargetState {
			e.Text = "device " + e.Text
		}
	case events.KindCycleStarted:
		var ev events.CycleStarted
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Text = fmt.Sprintf("cycle %s started (%s)", shortID(ev.CycleID), ev.Reason)
	case events.KindCycleCompleted:
		var ev events.CycleCompleted
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Text = fmt.Sprintf("cycle %s done in %s: %d fetched, %d evicted, %s moved",
			shortID(ev.CycleID), ev.Duration.Round(time.Second), ev.Fetched, ev.Evicted, types.FormatSize(ev.BytesMoved))
		if ev.Failed > 0 {
			e.Level = logging.LevelWarn
			e.Text += fmt.Sprintf(", %d failed", ev.Failed)
		}
	case events.KindCycleFailed:
		var ev events.CycleFailed
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Level = logging.LevelError
		e.Text = fmt.Sprintf("cycle %s failed (%s): %s", shortID(ev.CycleID), ev.Category, ev.Error)
	case events.KindItemCompleted:
		var ev events.ItemCompleted
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Text = fmt.Sprintf("%s %s (%s)", ev.Action, ev.ItemID, types.FormatSize(ev.Bytes))
	case events.KindItemFailed:
		var ev events.ItemFailed
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Level = logging.LevelError
		e.Text = fmt.Sprintf("%s failed: %s", ev.ItemID, ev.Error)
	case events.KindBreakerChanged:
		var ev events.BreakerChanged
		if json.Unmarshal(rec.Data, &ev) != nil {
			return e, false
		}
		e.Level = logging.LevelWarn
		e.Text = fmt.Sprintf("breaker %s %s -> %s", ev.Name, ev.From, ev.To)
	default:
		return e, false
	}
	return e, true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

// feedRingBuffer is a thread-safe ring buffer for feed entries.
// It maintains a fixed-size buffer with FIFO eviction.
type feedRingBuffer struct {
	mu         sync.RWMutex
	entries    []feedEntry
	maxEntries int
}

func newFeedRingBuffer(maxEntries int) *feedRingBuffer {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &feedRingBuffer{
		entries:    make([]feedEntry, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Add appends an entry to the buffer, evicting the oldest if at capacity.
func (rb *feedRingBuffer) Add(entry feedEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.entries) >= rb.maxEntries {
		rb.entries = rb.entries[1:]
	}
	rb.entries = append(rb.entries, entry)
}

// Entries returns a copy of all entries in chronological order.
func (rb *feedRingBuffer) Entries() []feedEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]feedEntry, len(rb.entries))
	copy(result, rb.entries)
	return result
}

// Len returns the number of entries in the buffer.
func (rb *feedRingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}

// filterEntries returns entries at or above minLevel.
func filterEntries(entries []feedEntry, minLevel logging.Level) []feedEntry {
	result := make([]feedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Level >= minLevel {
			result = append(result, e)
		}
	}
	return result
}

// clampScroll keeps a scroll offset, counted from the newest entry, in range.
func clampScroll(offset, total, visible int) int {
	maxOffset := total - visible
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset < 0 {
		return 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

// visibleEntries returns up to limit entries ending offset entries before
// the newest one.
func visibleEntries(entries []feedEntry, offset, limit int) []feedEntry {
	end := len(entries) - offset
	if end <= 0 {
		return nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return entries[start:end]
}

func levelStyle(level logging.Level) lipgloss.Style {
	switch level {
	case logging.LevelDebug:
		return feedDebugStyle
	case logging.LevelWarn:
		return feedWarnStyle
	case logging.LevelError:
		return feedErrorStyle
	default:
		return feedInfoStyle
	}
}

// FeedState holds the event feed pane.
type FeedState struct {
	Buffer       *feedRingBuffer
	FilterLevel  logging.Level
	ScrollOffset int
}

// NewFeedState returns a feed keeping the last 200 entries and hiding
// debug lines.
func NewFeedState() *FeedState {
	return &FeedState{
		Buffer:      newFeedRingBuffer(200),
		FilterLevel: logging.LevelInfo,
	}
}

// Add records an entry. A scrolled feed stays on the same lines.
func (s *FeedState) Add(e feedEntry) {
	s.Buffer.Add(e)
	if s.ScrollOffset > 0 && e.Level >= s.FilterLevel {
		s.ScrollOffset++
	}
}

// SetFilterLevel sets the filter level and returns to the newest entries.
func (s *FeedState) SetFilterLevel(level logging.Level) {
	s.FilterLevel = level
	s.ScrollOffset = 0
}

// ScrollUp moves one line towards older entries.
func (s *FeedState) ScrollUp(visibleRows int) {
	s.ScrollOffset = clampScroll(s.ScrollOffset+1, s.FilteredCount(), visibleRows)
}

// ScrollDown moves one line towards newer entries.
func (s *FeedState) ScrollDown() {
	if s.ScrollOffset > 0 {
		s.ScrollOffset--
	}
}

// FilteredCount returns the number of entries shown under the filter.
func (s *FeedState) FilteredCount() int {
	return len(filterEntries(s.Buffer.Entries(), s.FilterLevel))
}

// renderFeed renders the feed pane, newest entries at the bottom.
func renderFeed(s *FeedState, width, height int) string {
	if height < 3 {
		return ""
	}

	var b strings.Builder
	title := titleStyle.Render(fmt.Sprintf(" Events [%s+] ", s.FilterLevel))
	b.WriteString(title + mutedTextStyle.Render("[1-4] filter  [ ] scroll"))
	b.WriteString("\n")
	b.WriteString(renderDivider(width))
	b.WriteString("\n")

	rows := height - 2
	filtered := filterEntries(s.Buffer.Entries(), s.FilterLevel)
	s.ScrollOffset = clampScroll(s.ScrollOffset, len(filtered), rows)
	visible := visibleEntries(filtered, s.ScrollOffset, rows)

	for i := len(visible); i < rows; i++ {
		b.WriteString("\n")
	}
	for i, e := range visible {
		b.WriteString(renderFeedEntry(e, width))
		if i < len(visible)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderFeedEntry renders "HH:MM:SS target message".
func renderFeedEntry(e feedEntry, width int) string {
	target := e.Target
	if target == "" {
		target = "-"
	}
	target = truncate(target, 10)
	prefix := 8 + 1 + 10 + 1
	msgWidth := width - prefix
	if msgWidth < 10 {
		msgWidth = 10
	}
	return fmt.Sprintf("%s %s %s",
		feedTimeStyle.Render(e.Time.Local().Format("15:04:05")),
		feedTargetStyle.Render(padRight(target, 10)),
		levelStyle(e.Level).Render(truncate(e.Text, msgWidth)))
}
