package pipeline

import (
	"bufio"
	"os"
	"strings"
)

// Classifier decides whether a non-zero exit from an auxiliary command stage
// reflects a real failure or a false alarm (some visualization tools exit
// non-zero on harmless conditions such as an empty input set).
type Classifier interface {
	Classify(exitCode int, logPath string) Verdict
}

// Verdict is the classifier's decision for one command-stage exit.
type Verdict int

const (
	// VerdictFailure aborts the pipeline.
	VerdictFailure Verdict = iota
	// VerdictFalseAlarm marks the stage skipped and lets the run continue.
	VerdictFalseAlarm
)

// KeywordClassifier scans the stage log for failure keywords. A non-zero
// exit whose log contains none of the keywords is treated as a false alarm.
// Matching is case-insensitive substring search.
type KeywordClassifier struct {
	Keywords []string
}

// NewKeywordClassifier returns a classifier with the default keyword set.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{Keywords: []string{"error", "failed", "exception"}}
}

func (c *KeywordClassifier) Classify(exitCode int, logPath string) Verdict {
	if exitCode == 0 {
		return VerdictFalseAlarm
	}
	file, err := os.Open(logPath)
	if err != nil {
		// No log to inspect: assume the worst.
		return VerdictFailure
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.ToLower(scanner.Text())
		for _, kw := range c.Keywords {
			if strings.Contains(line, kw) {
				return VerdictFailure
			}
		}
	}
	return VerdictFalseAlarm
}
