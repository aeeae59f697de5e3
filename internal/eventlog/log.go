// Package eventlog keeps the ordered activity feed shown to operators: an
// append-only list of user, system and activity entries.
package eventlog

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/observe"
	"github.com/nebulaforge/forge/internal/store"

	"github.com/oklog/ulid/v2"
)

type Kind string

const (
	KindUser     Kind = "user"
	KindSystem   Kind = "system"
	KindActivity Kind = "activity"
)

// Entry is immutable once appended.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
	Seq       uint64    `json:"seq"`
}

type State struct {
	Entries []Entry
}

// Sink receives every appended entry for durable storage.
type Sink interface {
	AppendJournal(entry *store.JournalEntry) error
	ClearJournal() error
}

// Log orders entries by (timestamp, seq). The seq counter only breaks ties
// between entries stamped within the same clock tick.
type Log struct {
	state *observe.Store[State]
	clock func() time.Time
	sink  Sink
	seq   uint64
}

type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) { l.clock = clock }
}

// WithSink streams appended entries to durable storage.
func WithSink(sink Sink) Option {
	return func(l *Log) { l.sink = sink }
}

func New(opts ...Option) *Log {
	l := &Log{
		state: observe.New(State{}),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a new entry and returns its id.
func (l *Log) Append(kind Kind, content string) (string, error) {
	switch kind {
	case KindUser, KindSystem, KindActivity:
	default:
		return "", errs.Validation("unknown entry kind: " + string(kind))
	}
	if strings.TrimSpace(content) == "" {
		return "", errs.Validation("entry content is empty")
	}

	entry := Entry{
		ID:      ulid.Make().String(),
		Kind:    kind,
		Content: content,
	}

	l.state.Mutate(func(s State) State {
		entry.Timestamp = l.clock()
		l.seq++
		entry.Seq = l.seq

		next := make([]Entry, len(s.Entries), len(s.Entries)+1)
		copy(next, s.Entries)
		next = append(next, entry)
		sort.SliceStable(next, func(i, j int) bool {
			if !next[i].Timestamp.Equal(next[j].Timestamp) {
				return next[i].Timestamp.Before(next[j].Timestamp)
			}
			return next[i].Seq < next[j].Seq
		})
		return State{Entries: next}
	})

	if l.sink != nil {
		journalEntry := &store.JournalEntry{
			ID:        entry.ID,
			Timestamp: entry.Timestamp,
			Kind:      string(entry.Kind),
			Content:   entry.Content,
			Seq:       entry.Seq,
		}
		if err := l.sink.AppendJournal(journalEntry); err != nil {
			slog.Error("Failed to journal event entry", "entry", entry.ID, "error", err)
		}
	}

	return entry.ID, nil
}

// Clear empties the feed in a single mutation.
func (l *Log) Clear() {
	l.state.Mutate(func(State) State {
		return State{}
	})

	if l.sink != nil {
		if err := l.sink.ClearJournal(); err != nil {
			slog.Error("Failed to clear event journal", "error", err)
		}
	}
}

// Snapshot returns an ordered copy of every entry.
func (l *Log) Snapshot() []Entry {
	entries := l.state.Get().Entries
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Len reports the current entry count.
func (l *Log) Len() int {
	return len(l.state.Get().Entries)
}

// Subscribe registers a callback for every feed change.
func (l *Log) Subscribe(fn func(State)) func() {
	return l.state.Subscribe(fn)
}

// Restore seeds the feed from previously journaled entries, preserving their
// original ids and timestamps. Seq values are reassigned so later appends keep
// counting upward.
func (l *Log) Restore(journaled []store.JournalEntry) {
	if len(journaled) == 0 {
		return
	}

	l.state.Mutate(func(s State) State {
		entries := make([]Entry, 0, len(journaled)+len(s.Entries))
		for _, je := range journaled {
			l.seq++
			entries = append(entries, Entry{
				ID:        je.ID,
				Kind:      Kind(je.Kind),
				Content:   je.Content,
				Timestamp: je.Timestamp,
				Seq:       l.seq,
			})
		}
		entries = append(entries, s.Entries...)
		sort.SliceStable(entries, func(i, j int) bool {
			if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
				return entries[i].Timestamp.Before(entries[j].Timestamp)
			}
			return entries[i].Seq < entries[j].Seq
		})
		return State{Entries: entries}
	})
}
