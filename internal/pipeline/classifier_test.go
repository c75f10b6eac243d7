package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestKeywordClassifier_BenignLogIsFalseAlarm(t *testing.T) {
	log := writeLog(t, "Loading taxonomy...\nno hits found\n")
	if got := NewKeywordClassifier().Classify(1, log); got != VerdictFalseAlarm {
		t.Fatalf("verdict = %v, want false alarm", got)
	}
}

func TestKeywordClassifier_KeywordMeansRealFailure(t *testing.T) {
	for _, content := range []string{
		"Exception: segmentation fault\n",
		"step FAILED midway\n",
		"I/O Error: disk full\n",
	} {
		log := writeLog(t, content)
		if got := NewKeywordClassifier().Classify(1, log); got != VerdictFailure {
			t.Fatalf("verdict for %q = %v, want failure", content, got)
		}
	}
}

func TestKeywordClassifier_ZeroExitNeverFails(t *testing.T) {
	log := writeLog(t, "error: this line is irrelevant on a clean exit\n")
	if got := NewKeywordClassifier().Classify(0, log); got != VerdictFalseAlarm {
		t.Fatalf("verdict = %v", got)
	}
}

func TestKeywordClassifier_UnreadableLogIsFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "never-written.log")
	if got := NewKeywordClassifier().Classify(1, missing); got != VerdictFailure {
		t.Fatalf("verdict = %v, want failure when log is unreadable", got)
	}
}

func TestKeywordClassifier_CustomKeywords(t *testing.T) {
	log := writeLog(t, "FATAL: cannot allocate\n")
	c := &KeywordClassifier{Keywords: []string{"fatal"}}
	if got := c.Classify(1, log); got != VerdictFailure {
		t.Fatalf("verdict = %v", got)
	}
}
