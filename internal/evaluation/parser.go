package evaluation

import (
	"regexp"
	"strings"

	"crucible/internal/executor"
)

// Verdict classifies the outcome of one task's test run.
type Verdict string

const (
	// VerdictPassed: the marker block was found and reports a pass.
	VerdictPassed Verdict = "passed"
	// VerdictFailed: the marker block was found and reports a failure, or
	// a fully drained output carried no marker block at all.
	VerdictFailed Verdict = "failed"
	// VerdictIncomplete: the capture did not confirm drainage or the
	// command timed out, so the marker block may have been lost in flight.
	// Never conflated with a genuine failure.
	VerdictIncomplete Verdict = "incomplete"
)

var markerBlock = regexp.MustCompile(
	`SWEBench results starts here\s*([\s\S]*?)\s*SWEBench results ends here`)

// ExtractMarkerBlock returns the trimmed text between the result markers
// and whether a complete block was present.
func ExtractMarkerBlock(output string) (string, bool) {
	m := markerBlock.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ParseMarkerBlock reports whether output carries a marker block declaring
// a pass.
func ParseMarkerBlock(output string) bool {
	block, ok := ExtractMarkerBlock(output)
	return ok && block == "PASSED"
}

// Judge turns a test run's observation into a verdict. An observation
// whose capture is not complete yields VerdictIncomplete: a missing marker
// block in a truncated capture is an infrastructure loss, not a test
// failure.
func Judge(obs *executor.Observation) Verdict {
	if !obs.Complete() {
		return VerdictIncomplete
	}
	if ParseMarkerBlock(string(obs.Output)) {
		return VerdictPassed
	}
	return VerdictFailed
}
