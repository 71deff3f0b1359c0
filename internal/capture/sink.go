// Package capture implements the asynchronous output capture channel:
// a durable per-execution output sink, a relay that duplicates a command's
// output stream into the sink and an optional live mirror, and explicit
// drain confirmation decoupled from process exit.
//
// The invariant enforced here is strictly ordered: the command exits, the
// parent's copy of the write end is closed, the relay confirms it consumed
// end-of-stream, and only then is the sink finalized and read back. Process
// exit is never treated as proof that all output has been captured, because
// a child process may still hold the duplicated write end open.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink is a file-backed durable output log for a single execution.
// It is written exclusively by the relay goroutine and read exclusively
// after Finalize. The sink file, not any live stream, is the authoritative
// record of what the command wrote.
type Sink struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	written   int64
	writeErr  error
	finalized bool
}

// NewSink creates a sink file named name inside dir, creating dir if needed.
func NewSink(dir, name string) (*Sink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("create sink file: %w", err)
	}
	return &Sink{f: f, path: path}, nil
}

// Write appends p to the sink. The first failure is latched: all
// subsequent writes fail with the same error so the relay aborts instead
// of silently dropping bytes.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return 0, ErrSinkFinalized
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}

	n, err := s.f.Write(p)
	s.written += int64(n)
	if err != nil {
		s.writeErr = fmt.Errorf("%w: %v", ErrSinkWrite, err)
		return n, s.writeErr
	}
	return n, nil
}

// Err returns the latched write error, if any.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErr
}

// Finalize flushes and closes the sink. It is idempotent. After Finalize
// the sink rejects further writes and its contents may be read.
func (s *Sink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil
	}
	s.finalized = true

	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("sync sink: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

// Contents reads the full sink file. It must only be called after Finalize;
// reading while the relay may still be writing would return partial content
// as if it were final.
func (s *Sink) Contents() ([]byte, error) {
	s.mu.Lock()
	finalized := s.finalized
	s.mu.Unlock()

	if !finalized {
		return nil, ErrSinkNotFinalized
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read sink: %w", err)
	}
	return data, nil
}

// Path returns the sink file path.
func (s *Sink) Path() string { return s.path }

// Size returns the number of bytes written so far.
func (s *Sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
