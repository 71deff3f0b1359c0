package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Summary aggregates a batch of task results.
type Summary struct {
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Incomplete  int          `json:"incomplete"`
	GeneratedAt time.Time    `json:"generated_at"`
	Results     []TaskResult `json:"results"`
}

// Summarize tallies results into a summary.
func Summarize(results []TaskResult) *Summary {
	s := &Summary{
		Total:       len(results),
		GeneratedAt: time.Now().UTC(),
		Results:     results,
	}
	for _, r := range results {
		switch r.Verdict {
		case VerdictPassed:
			s.Passed++
		case VerdictFailed:
			s.Failed++
		default:
			s.Incomplete++
		}
	}
	return s
}

// WriteReport writes the summary as indented JSON to path, creating parent
// directories as needed.
func WriteReport(path string, s *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
