// Package evaluation runs benchmark tasks against sandboxes and parses
// their test output. A task is a directory holding a task.yaml, a tests/
// tree, and a run-tests.sh entry script.
package evaluation

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	taskConfigName = "task.yaml"
	testsDirName   = "tests"
	runScriptName  = "run-tests.sh"
)

// Task is one evaluation task loaded from disk.
type Task struct {
	// Name identifies the task; defaults to the directory name.
	Name string `yaml:"name"`
	// Instruction is the problem statement handed to the agent.
	Instruction string `yaml:"instruction"`
	// Image names the container image the task expects. The local backend
	// records it but runs on the host.
	Image string `yaml:"image"`
	// Timeout overrides the harness test timeout for this task.
	Timeout time.Duration `yaml:"timeout"`
	// Env is injected into the task's evaluation session.
	Env map[string]string `yaml:"env"`

	// Dir is the task directory on disk; set by the loader.
	Dir string `yaml:"-"`
}

// TestsDir returns the task's local tests directory.
func (t *Task) TestsDir() string { return filepath.Join(t.Dir, testsDirName) }

// RunScript returns the task's local test entry script.
func (t *Task) RunScript() string { return filepath.Join(t.Dir, runScriptName) }

// LoadTask reads a task from dir/task.yaml.
func LoadTask(dir string) (*Task, error) {
	path := filepath.Join(dir, taskConfigName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var t Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if t.Instruction == "" {
		return nil, fmt.Errorf("task %s: instruction is required", dir)
	}
	if t.Name == "" {
		t.Name = filepath.Base(dir)
	}
	t.Dir = dir
	return &t, nil
}

// DiscoverTasks lists subdirectories of root that contain a task.yaml,
// sorted by name.
func DiscoverTasks(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, taskConfigName)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
