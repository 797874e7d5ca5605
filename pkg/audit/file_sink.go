package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	currentLogName   = "audit.log"
	rotatedLogPrefix = "audit-"
)

// FileSink appends records as JSON lines to a log file with size based
// rotation. It is append-only: it does not implement Pruner.
type FileSink struct {
	basePath string
	maxSize  int64
	maxFiles int
	sync     bool

	mu   sync.Mutex
	file *os.File
}

// FileSinkConfig configures the file sink
type FileSinkConfig struct {
	BasePath string // Directory for audit logs
	MaxSize  int64  // Max file size in bytes before rotation (default: 100MB)
	MaxFiles int    // Max number of rotated files to keep (default: 10)
	Sync     bool   // fsync after every record
}

// DefaultFileSinkConfig returns default configuration
func DefaultFileSinkConfig() FileSinkConfig {
	return FileSinkConfig{
		BasePath: "/var/log/tally",
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileSink creates the directory if needed and opens the current log file
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	s := &FileSink{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		sync:     config.Sync,
	}
	if s.maxSize <= 0 {
		s.maxSize = 100 * 1024 * 1024
	}
	if s.maxFiles <= 0 {
		s.maxFiles = 10
	}

	if err := s.openLogFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) currentPath() string {
	return filepath.Join(s.basePath, currentLogName)
}

func (s *FileSink) openLogFile() error {
	file, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	s.file = file
	return nil
}

// rotate renames the current file and removes rotated files beyond maxFiles.
// Rotated names embed a nanosecond timestamp so lexical order is write order.
func (s *FileSink) rotate() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return err
		}
		s.file = nil
	}

	rotated := filepath.Join(s.basePath, fmt.Sprintf("%s%019d.log", rotatedLogPrefix, time.Now().UnixNano()))
	if err := os.Rename(s.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	files, err := s.rotatedFiles()
	if err != nil {
		return err
	}
	if excess := len(files) - s.maxFiles; excess > 0 {
		for _, f := range files[:excess] {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove old audit log %s: %w", f, err)
			}
		}
	}
	return s.openLogFile()
}

func (s *FileSink) rotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.basePath, rotatedLogPrefix+"*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Store implements Sink. Each record is written with a single write call.
func (s *FileSink) Store(_ context.Context, record Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("file sink is closed")
	}
	if info, err := s.file.Stat(); err == nil && info.Size() > 0 && info.Size()+int64(len(line)) > s.maxSize {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	if s.sync {
		return s.file.Sync()
	}
	return nil
}

// List implements Querier by scanning rotated files oldest first and then
// the current file
func (s *FileSink) List(ctx context.Context, key EntityKey) ([]Record, error) {
	s.mu.Lock()
	files, err := s.rotatedFiles()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	files = append(files, s.currentPath())

	records := make([]Record, 0)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := readRecords(path, key)
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}
	sortOldestFirst(records)
	return records, nil
}

func readRecords(path string, key EntityKey) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("failed to decode audit log entry in %s: %w", filepath.Base(path), err)
		}
		if r.Key() == key {
			records = append(records, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return records, nil
}

// Close closes the current log file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
