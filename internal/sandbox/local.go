package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crucible/internal/executor"
	"crucible/internal/session"
)

// Local executes commands in a directory tree on the host. Sandbox-relative
// paths (including absolute-looking ones such as /tests) resolve under the
// sandbox root and may not escape it.
type Local struct {
	id       string
	root     string
	exec     *executor.Executor
	sessions *session.Manager
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewLocal creates a local sandbox rooted at a fresh directory under
// baseDir. sessions may be nil to disable named sessions.
func NewLocal(baseDir string, exec *executor.Executor, sessions *session.Manager, logger zerolog.Logger) (*Local, error) {
	id := uuid.New().String()
	root := filepath.Join(baseDir, id)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	logger.Info().Str("sandbox_id", id).Str("root", root).Msg("sandbox started")
	return &Local{id: id, root: root, exec: exec, sessions: sessions, logger: logger}, nil
}

// ID returns the sandbox identifier.
func (s *Local) ID() string { return s.id }

// Root returns the sandbox root directory on the host.
func (s *Local) Root() string { return s.root }

// Run executes a command and blocks for its final observation.
func (s *Local) Run(ctx context.Context, command string, opts RunOpts) (*executor.Observation, error) {
	h, err := s.Detach(ctx, command, opts)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Detach starts a command under the sandbox and returns its handle.
func (s *Local) Detach(ctx context.Context, command string, opts RunOpts) (*executor.Execution, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	req := executor.Request{
		Command: command,
		Session: opts.Session,
		Workdir: s.root,
		Mode:    executor.ModeDetached,
		Timeout: opts.Timeout,
	}

	if opts.Session != "" && s.sessions != nil {
		sess, err := s.sessions.Get(s.sessionKey(opts.Session))
		if err != nil {
			return nil, fmt.Errorf("resolve session %s: %w", opts.Session, err)
		}
		req.Env = sess.Environ()
		if sess.Workdir != "" {
			dir, rErr := s.resolve(sess.Workdir)
			if rErr != nil {
				return nil, rErr
			}
			req.Workdir = dir
		}
		if err := s.sessions.Touch(s.sessionKey(opts.Session)); err != nil {
			s.logger.Warn().Err(err).Str("session", opts.Session).Msg("touch session failed")
		}
	}

	return s.exec.Detach(ctx, req)
}

// CreateSession creates a named session scoped to this sandbox.
func (s *Local) CreateSession(name string, env map[string]string, workdir string) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.sessions == nil {
		return fmt.Errorf("sandbox %s: sessions not configured", s.id)
	}
	if workdir != "" {
		if _, err := s.resolve(workdir); err != nil {
			return err
		}
	}
	_, err := s.sessions.Create(s.sessionKey(name), env, workdir)
	return err
}

// UploadFile copies a local file into the sandbox.
func (s *Local) UploadFile(localPath, sandboxPath string) error {
	if err := s.check(); err != nil {
		return err
	}
	dst, err := s.resolve(sandboxPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create sandbox file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("copy file: %w", err)
	}
	return nil
}

// UploadDir compresses localDir to a tar.gz, places the archive inside the
// sandbox, and extracts it there with tar. The archive round trip matches
// how uploads reach remote sandboxes.
func (s *Local) UploadDir(localDir, sandboxDir string) error {
	if err := s.check(); err != nil {
		return err
	}
	dst, err := s.resolve(sandboxDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	archive := filepath.Join(s.root, fmt.Sprintf(".upload-%s.tar.gz", uuid.New().String()[:8]))
	if err := compressDir(localDir, archive); err != nil {
		return err
	}
	defer os.Remove(archive)

	obs, err := s.Run(context.Background(),
		fmt.Sprintf("tar -xzf %s -C %s", shellQuote(archive), shellQuote(dst)),
		RunOpts{})
	if err != nil {
		return fmt.Errorf("extract upload: %w", err)
	}
	if obs.ExitCode != 0 {
		return fmt.Errorf("extract upload: tar exited %d: %s", obs.ExitCode, obs.Output)
	}
	return nil
}

// Close marks the sandbox closed. Files stay on disk for inspection.
func (s *Local) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info().Str("sandbox_id", s.id).Msg("sandbox closed")
	return nil
}

func (s *Local) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// sessionKey namespaces session names per sandbox.
func (s *Local) sessionKey(name string) string {
	return s.id + "/" + name
}

// resolve maps a sandbox path onto the host and rejects escapes.
func (s *Local) resolve(sandboxPath string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimPrefix(sandboxPath, "/"))
	full := filepath.Join(s.root, cleaned)

	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, sandboxPath)
	}
	return full, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
