// Package state persists pipeline run records under:
//
//	<workDir>/.metapipe/runs/<run-id>/
//
// run.json holds the run-level record; stages/<stage>.json holds the final
// summary of each completed stage. All writes are atomic and durable (file
// sync + atomic rename + dir sync), so a crash mid-write never leaves a
// truncated record behind.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"metapipe/internal/engine"
)

// Run is the persisted run-level record.
type Run struct {
	RunID      string    `json:"run_id"`
	Plan       string    `json:"plan"`
	WorkDir    string    `json:"work_dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Partial    bool      `json:"partial"`
	Stages     []string  `json:"stages"`
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run_id is required")
	}
	if strings.TrimSpace(r.Plan) == "" {
		return errors.New("plan is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	return nil
}

// NewRunID returns a fresh identifier for a pipeline run.
func NewRunID() string {
	return uuid.New().String()
}

// Store reads and writes run records under one working directory.
type Store struct {
	workDir string
}

func NewStore(workDir string) (*Store, error) {
	if strings.TrimSpace(workDir) == "" {
		return nil, errors.New("workDir is required")
	}
	return &Store{workDir: workDir}, nil
}

func (s *Store) runsRootDir() string {
	return filepath.Join(s.workDir, ".metapipe", "runs")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.runsRootDir(), runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) stagesDir(runID string) string {
	return filepath.Join(s.runDir(runID), "stages")
}

func (s *Store) stagePath(runID, stage string) string {
	return filepath.Join(s.stagesDir(runID), stage+".json")
}

// ListRunIDs returns all run IDs present on disk, sorted lexicographically.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsRootDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if err := ensureDirDurable(s.runDir(run.RunID)); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := writeFileAtomicDurable(s.runPath(run.RunID), data); err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveStageSummary(runID string, sum engine.StageSummary) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if strings.TrimSpace(sum.Stage) == "" {
		return errors.New("summary has no stage name")
	}
	if err := ensureDirDurable(s.stagesDir(runID)); err != nil {
		return fmt.Errorf("ensure stages dir: %w", err)
	}
	data, err := jsonMarshalStable(sum)
	if err != nil {
		return fmt.Errorf("marshal stage summary: %w", err)
	}
	if err := writeFileAtomicDurable(s.stagePath(runID, sum.Stage), data); err != nil {
		return fmt.Errorf("write stage summary: %w", err)
	}
	return nil
}

func (s *Store) LoadStageSummary(runID, stage string) (engine.StageSummary, error) {
	var sum engine.StageSummary
	if strings.TrimSpace(runID) == "" {
		return sum, errors.New("runID is required")
	}
	if strings.TrimSpace(stage) == "" {
		return sum, errors.New("stage is required")
	}
	if err := readJSONStrict(s.stagePath(runID, stage), &sum); err != nil {
		return engine.StageSummary{}, err
	}
	return sum, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	if parent := filepath.Dir(dir); parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
