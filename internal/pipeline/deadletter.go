package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"repairpulse/internal/events"
)

// Dead-letter reasons.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonShutdown         = "shutdown"
)

// DeadLetter is an event the batch path gave up on.
type DeadLetter struct {
	Event          *events.AnalyticsEvent `json:"event"`
	Reason         string                 `json:"reason"`
	Attempts       int                    `json:"attempts"`
	LastError      string                 `json:"last_error,omitempty"`
	DeadLetteredAt time.Time              `json:"dead_lettered_at"`
}

// DeadLetterSink stores dead letters until they are replayed.
type DeadLetterSink interface {
	Write(ctx context.Context, letters []DeadLetter) error
	// Drain returns every stored letter. Drained letters stay in the sink,
	// and are returned again by the next Drain, until Ack is called.
	Drain(ctx context.Context) ([]DeadLetter, error)
	// Ack drops the letters returned by the previous Drain.
	Ack(ctx context.Context) error
}

// FileDeadLetterSink appends dead letters as JSON lines to a size-rotated file.
// Drain moves the active file aside to a ".replaying" file that Ack removes.
type FileDeadLetterSink struct {
	mu     sync.Mutex
	path   string
	writer *lumberjack.Logger
}

// NewFileDeadLetterSink writes to path, rotating at maxSizeMB and keeping
// maxBackups rotated files.
func NewFileDeadLetterSink(path string, maxSizeMB, maxBackups int) (*FileDeadLetterSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead letter directory: %w", err)
	}
	return &FileDeadLetterSink{
		path: path,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		},
	}, nil
}

func (s *FileDeadLetterSink) Write(_ context.Context, letters []DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range letters {
		line, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("failed to encode dead letter: %w", err)
		}
		if _, err := s.writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write dead letter: %w", err)
		}
	}
	return nil
}

func (s *FileDeadLetterSink) replayingPath() string {
	return s.path + ".replaying"
}

// Drain moves the active file onto the replaying file and returns everything
// the replaying file holds. Rotated backups are left alone.
func (s *FileDeadLetterSink) Drain(_ context.Context) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close dead letter file: %w", err)
	}
	if err := s.moveActiveToReplaying(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.replayingPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dead letter file: %w", err)
	}
	defer f.Close()

	var letters []DeadLetter
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var l DeadLetter
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}
		letters = append(letters, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dead letter file: %w", err)
	}
	return letters, nil
}

// moveActiveToReplaying renames the active file, or appends it when letters
// from an unacknowledged drain are still waiting.
func (s *FileDeadLetterSink) moveActiveToReplaying() error {
	active, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dead letter file: %w", err)
	}

	if _, err := os.Stat(s.replayingPath()); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(s.path, s.replayingPath()); err != nil {
			return fmt.Errorf("failed to move dead letter file: %w", err)
		}
		return nil
	}

	f, err := os.OpenFile(s.replayingPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open replaying dead letter file: %w", err)
	}
	if _, err := f.Write(active); err != nil {
		f.Close()
		return fmt.Errorf("failed to append dead letters: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync dead letters: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close replaying dead letter file: %w", err)
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("failed to remove drained dead letter file: %w", err)
	}
	return nil
}

// Ack removes the replaying file.
func (s *FileDeadLetterSink) Ack(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.replayingPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove replayed dead letter file: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileDeadLetterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

// MemoryDeadLetterSink keeps dead letters in memory.
type MemoryDeadLetterSink struct {
	mu       sync.Mutex
	letters  []DeadLetter
	draining []DeadLetter
	err      error
}

func NewMemoryDeadLetterSink() *MemoryDeadLetterSink {
	return &MemoryDeadLetterSink{}
}

// FailWith makes subsequent writes return err. Pass nil to recover.
func (s *MemoryDeadLetterSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryDeadLetterSink) Write(_ context.Context, letters []DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.letters = append(s.letters, letters...)
	return nil
}

func (s *MemoryDeadLetterSink) Drain(_ context.Context) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = append(s.draining, s.letters...)
	s.letters = nil
	return append([]DeadLetter(nil), s.draining...), nil
}

func (s *MemoryDeadLetterSink) Ack(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = nil
	return nil
}

// Unacked returns the drained letters still waiting for Ack.
func (s *MemoryDeadLetterSink) Unacked() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.draining...)
}

// Letters returns a copy of the stored letters that have not been drained.
func (s *MemoryDeadLetterSink) Letters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.letters...)
}
