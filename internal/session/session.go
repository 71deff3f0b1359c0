// Package session manages named execution sessions: environment variables
// and a working directory applied to every command run under the session.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session: not found")

// ErrExists is returned when creating a session whose name is taken.
var ErrExists = errors.New("session: already exists")

// Session is an execution session.
type Session struct {
	Name       string            `json:"name"`
	Env        map[string]string `json:"env,omitempty"`
	Workdir    string            `json:"workdir,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastUsedAt time.Time         `json:"last_used_at"`
}

// Environ renders the session environment as KEY=VALUE pairs in stable
// order, suitable for exec.Cmd.
func (s *Session) Environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, s.Env[k]))
	}
	return env
}
