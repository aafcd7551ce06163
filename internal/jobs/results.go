package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/svgtranslate/svgbatch/internal/worker"
)

// FileStore persists job result payloads as JSON files named
// deterministically from (job id, job type). It is the only channel
// exposing pipeline detail to callers.
type FileStore struct {
	dir string
}

// NewFileStore creates the results directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// FileName returns the deterministic result file name for a job.
func FileName(jobID int64, jobType string) string {
	return fmt.Sprintf("job_%d_%s.json", jobID, jobType)
}

// Path returns the full path of a job's result file.
func (s *FileStore) Path(jobID int64, jobType string) string {
	return filepath.Join(s.dir, FileName(jobID, jobType))
}

// Write stores the result payload and returns the file name recorded on
// the job row. Mid-run checkpoints and the final write go through the
// same path; a rename keeps readers from ever seeing a half-written
// file.
func (s *FileStore) Write(jobID int64, jobType string, result *worker.Result) (string, error) {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode job %d result: %w", jobID, err)
	}

	path := s.Path(jobID, jobType)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0644); err != nil {
		return "", fmt.Errorf("write job %d result: %w", jobID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write job %d result: %w", jobID, err)
	}
	return FileName(jobID, jobType), nil
}

// Read loads a stored result payload. A missing file is not an error:
// it returns nil, meaning no result has been recorded yet.
func (s *FileStore) Read(jobID int64, jobType string) (*worker.Result, error) {
	raw, err := os.ReadFile(s.Path(jobID, jobType))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job %d result: %w", jobID, err)
	}
	var result worker.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode job %d result: %w", jobID, err)
	}
	return &result, nil
}
