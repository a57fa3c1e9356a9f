package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimestampLayout names per-run artifacts, e.g. batch_requests_20250314_093015.jsonl.
const TimestampLayout = "20060102_150405"

var (
	ErrLogsDirNotFound  = errors.New("logs directory not found")
	ErrNoBatchIDFiles   = errors.New("no batch_id_*.txt files found")
	ErrEmptyBatchIDFile = errors.New("batch id file is empty")
	ErrNoRequestFiles   = errors.New("no batch_requests_*.jsonl files found")
)

// writeFileAtomic writes data next to path and renames it into place, so a
// crash never leaves a half-written artifact behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// latestFile returns the file matching pattern in dir with the newest
// modification time. Names only break ties.
func latestFile(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}

	var (
		latest     string
		latestTime time.Time
	)
	sort.Strings(matches)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if latest == "" || !info.ModTime().Before(latestTime) {
			latest, latestTime = m, info.ModTime()
		}
	}
	return latest, nil
}

// ResolveBatchID picks the batch to work on. An explicit id always wins;
// otherwise the batch_id_*.txt in logsDir with the latest modification time
// is read. The returned source is the file the id came from, or "" when
// the id was explicit.
func ResolveBatchID(explicit, logsDir string) (id, source string, err error) {
	if explicit != "" {
		return explicit, "", nil
	}

	info, err := os.Stat(logsDir)
	if err != nil || !info.IsDir() {
		return "", "", fmt.Errorf("%w: %s", ErrLogsDirNotFound, logsDir)
	}

	latest, err := latestFile(logsDir, "batch_id_*.txt")
	if err != nil {
		return "", "", err
	}
	if latest == "" {
		return "", "", fmt.Errorf("%w in %s", ErrNoBatchIDFiles, logsDir)
	}

	data, err := os.ReadFile(latest)
	if err != nil {
		return "", "", fmt.Errorf("read batch id %s: %w", latest, err)
	}
	id = strings.TrimSpace(string(data))
	if id == "" {
		return "", "", fmt.Errorf("%w: %s", ErrEmptyBatchIDFile, latest)
	}
	return id, latest, nil
}

// LatestRequestFile returns the newest batch_requests_*.jsonl in logsDir.
func LatestRequestFile(logsDir string) (string, error) {
	latest, err := latestFile(logsDir, "batch_requests_*.jsonl")
	if err != nil {
		return "", err
	}
	if latest == "" {
		return "", fmt.Errorf("%w in %s", ErrNoRequestFiles, logsDir)
	}
	return latest, nil
}

// LogsDir applies the default of <output-dir>/logs.
func LogsDir(outputDir, logsDir string) string {
	if logsDir != "" {
		return logsDir
	}
	return filepath.Join(outputDir, "logs")
}

// nonBlankLines splits JSON-Lines content, dropping whitespace-only lines.
func nonBlankLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
