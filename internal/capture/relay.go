package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Relay duplicates one output stream into a sink and an optional mirror.
// It owns an OS pipe: the write end is handed to the command (and inherited
// by any children it spawns), a single goroutine copies the read end into
// the destinations in write order. Pipe back-pressure blocks writers rather
// than dropping data.
//
// The relay's completion signal is independent of the command's exit: the
// copy goroutine finishes only when every holder of the write end has
// closed it and all buffered bytes have been copied out.
type Relay struct {
	pr *os.File
	pw *os.File

	done    chan struct{}
	copyErr error

	closeOnce sync.Once
	closeErr  error
}

// NewRelay creates a relay copying into sink, and into mirror when non-nil.
// Mirror writes happen on the relay goroutine; a slow mirror applies
// back-pressure to the command just like a slow sink.
func NewRelay(sink *Sink, mirror io.Writer) (*Relay, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create relay pipe: %w", err)
	}

	dst := io.Writer(sink)
	if mirror != nil {
		dst = io.MultiWriter(sink, mirror)
	}

	r := &Relay{pr: pr, pw: pw, done: make(chan struct{})}
	go func() {
		_, r.copyErr = io.Copy(dst, pr)
		pr.Close()
		close(r.done)
	}()
	return r, nil
}

// WriteEnd returns the pipe's write end for wiring into a command's
// standard streams. The command (and its children) receive duplicated
// descriptors; the relay keeps its own reference until CloseWrite.
func (r *Relay) WriteEnd() *os.File { return r.pw }

// CloseWrite closes the relay's own reference to the write end. This is the
// restoration point: future writes from this process can no longer reach
// the relay. It does not imply drainage: children may still hold their
// inherited descriptors open, and buffered bytes may still be in flight.
func (r *Relay) CloseWrite() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.pw.Close()
	})
	return r.closeErr
}

// Drain blocks until the copy goroutine has consumed end-of-stream, or the
// context expires. A context expiry is reported as ErrDrainTimeout: the
// caller must flag the capture as incomplete rather than fabricating a
// complete result.
//
// CloseWrite must be called before Drain; otherwise the relay's own write
// reference keeps the pipe open forever.
func (r *Relay) Drain(ctx context.Context) error {
	select {
	case <-r.done:
		return r.copyErr
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDrainTimeout, ctx.Err())
	}
}

// Drained reports whether end-of-stream has been consumed.
func (r *Relay) Drained() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err returns the copy error after drainage, nil before.
func (r *Relay) Err() error {
	if !r.Drained() {
		return nil
	}
	return r.copyErr
}

// SinkFailed reports whether the relay stopped because the sink rejected a
// write. Such captures are aborted outright instead of being returned as
// partial successes.
func (r *Relay) SinkFailed() bool {
	return errors.Is(r.Err(), ErrSinkWrite)
}
