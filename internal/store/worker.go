package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/nebulaforge/forge/internal/config"

	"github.com/natefinch/atomic"
)

type Operation int

const (
	OpSaveSession Operation = iota
	OpLoadSession
	OpClearSession
	OpAppendJournal
	OpReadJournal
	OpClearJournal
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type SaveSessionPayload struct {
	Record *SessionRecord
	Token  string
}

type AppendJournalPayload struct {
	Entry *JournalEntry
}

type ReadJournalPayload struct {
	Limit int // 0 = all
}

// LoadedSession pairs a durable record with its opaque token.
type LoadedSession struct {
	Record *SessionRecord
	Token  string
}

// Worker owns all filesystem access for a workspace. Every durable read and
// write funnels through its single goroutine, so no file is ever touched from
// two goroutines at once.
type Worker struct {
	workspaceID           string
	basePath              string
	inbox                 chan Request
	fileLock              *FileLock
	quit                  chan struct{}
	wg                    sync.WaitGroup
	running               stdatomic.Bool
	journalRotateMaxBytes int64
}

type RuntimeConfig struct {
	LockTimeout           time.Duration
	LockRetry             time.Duration
	LockMaxRetry          int
	InboxSize             int
	JournalRotateMaxBytes int64
}

func NewWorker(workspaceID string, workspaceRootPath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}

	// Init Directories
	dirs := []string{
		filepath.Join(basePath, "session"),
		filepath.Join(basePath, "journal"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", d, err)
		}
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}
	if runtimeCfg.JournalRotateMaxBytes <= 0 {
		runtimeCfg.JournalRotateMaxBytes = config.DefaultStoreJournalRotateBytes
	}

	// File Lock (Single Instance per Workspace)
	fileLock, err := NewFileLock(workspaceID, basePath, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return &Worker{
		workspaceID:           workspaceID,
		basePath:              basePath,
		inbox:                 make(chan Request, runtimeCfg.InboxSize),
		fileLock:              fileLock,
		quit:                  make(chan struct{}),
		journalRotateMaxBytes: runtimeCfg.JournalRotateMaxBytes,
	}, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Info("StoreWorker started", "workspace", w.workspaceID)
	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	for {
		select {
		case req := <-w.inbox:
			err := w.handle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			slog.Info("StoreWorker stopping")
			return
		}
	}
}

func (w *Worker) handle(req Request) error {
	switch req.Op {
	case OpSaveSession:
		p, ok := req.Payload.(SaveSessionPayload)
		if !ok {
			return fmt.Errorf("invalid payload for SaveSession")
		}
		return w.saveSession(p.Record, p.Token)
	case OpLoadSession:
		loaded, err := w.loadSession()
		if req.Response != nil {
			req.Response <- loaded
		}
		return err
	case OpClearSession:
		return w.clearSession()
	case OpAppendJournal:
		p, ok := req.Payload.(AppendJournalPayload)
		if !ok {
			return fmt.Errorf("invalid payload for AppendJournal")
		}
		return w.appendJournal(p.Entry)
	case OpReadJournal:
		p, ok := req.Payload.(ReadJournalPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ReadJournal")
		}
		entries, err := w.readJournal(p.Limit)
		if req.Response != nil {
			req.Response <- entries
		}
		return err
	case OpClearJournal:
		return w.clearJournal()
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (w *Worker) sessionRecordPath() string {
	return filepath.Join(w.basePath, "session", "record.json")
}

func (w *Worker) sessionTokenPath() string {
	return filepath.Join(w.basePath, "session", "token")
}

func (w *Worker) journalPath() string {
	return filepath.Join(w.basePath, "journal", "events.jsonl")
}

func (w *Worker) saveSession(record *SessionRecord, token string) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(w.sessionRecordPath(), bytes.NewReader(data)); err != nil {
		return err
	}
	return atomic.WriteFile(w.sessionTokenPath(), strings.NewReader(token))
}

func (w *Worker) loadSession() (*LoadedSession, error) {
	data, err := os.ReadFile(w.sessionRecordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse session record: %w", err)
	}

	tokenData, err := os.ReadFile(w.sessionTokenPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return &LoadedSession{
		Record: &record,
		Token:  strings.TrimSpace(string(tokenData)),
	}, nil
}

func (w *Worker) clearSession() error {
	for _, path := range []string{w.sessionRecordPath(), w.sessionTokenPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (w *Worker) appendJournal(entry *JournalEntry) error {
	path := w.journalPath()

	if err := w.checkAndRotate(path); err != nil {
		slog.Warn("Failed to rotate journal", "workspace", w.workspaceID, "error", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return f.Sync()
}

func (w *Worker) readJournal(limit int) ([]JournalEntry, error) {
	data, err := os.ReadFile(w.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []JournalEntry{}, nil
		}
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []JournalEntry{}, nil
	}

	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	entries := make([]JournalEntry, 0, len(lines))
	for _, line := range lines {
		var entry JournalEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("Skipping malformed journal line", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (w *Worker) clearJournal() error {
	if err := os.Remove(w.journalPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Worker) checkAndRotate(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Size() < w.journalRotateMaxBytes {
		return nil
	}

	slog.Info("Rotating journal", "workspace", w.workspaceID, "size", info.Size())

	timestamp := time.Now().Format("20060102150405")
	backupPath := fmt.Sprintf("%s.%s.bak", path, timestamp)

	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create new journal: %w", err)
	}
	f.Close()

	return nil
}

// Public API for other components

func (w *Worker) SaveSession(record *SessionRecord, token string) error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:      OpSaveSession,
		Payload: SaveSessionPayload{Record: record, Token: token},
		Result:  res,
	}
	return <-res
}

func (w *Worker) LoadSession() (*LoadedSession, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op:       OpLoadSession,
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	if val == nil {
		return nil, nil // No persisted session
	}
	loaded, _ := val.(*LoadedSession)
	return loaded, nil
}

func (w *Worker) ClearSession() error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:     OpClearSession,
		Result: res,
	}
	return <-res
}

func (w *Worker) AppendJournal(entry *JournalEntry) error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:      OpAppendJournal,
		Payload: AppendJournalPayload{Entry: entry},
		Result:  res,
	}
	return <-res
}

func (w *Worker) ReadJournal(limit int) ([]JournalEntry, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op:       OpReadJournal,
		Payload:  ReadJournalPayload{Limit: limit},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	return val.([]JournalEntry), nil
}

func (w *Worker) ClearJournal() error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:     OpClearJournal,
		Result: res,
	}
	return <-res
}

func (w *Worker) Stop() {
	slog.Info("StoreWorker Stop called", "workspace", w.workspaceID, "lock_held", w.fileLock.IsLocked())

	close(w.quit)
	w.wg.Wait()

	if w.fileLock.IsLocked() {
		w.fileLock.Unlock()
	}
}

func (w *Worker) IsLockHeld() bool {
	return w.fileLock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.fileLock.IsLocked() && w.running.Load()
}
