package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotatingFile is an io.Writer over a log file that is renamed aside once
// it would grow past its size limit.
type RotatingFile struct {
	path       string
	maxBytes   int64
	maxBackups int
	compress   bool

	mu   sync.Mutex
	file *os.File
	size int64
	wg   sync.WaitGroup

	now func() time.Time
}

// NewRotatingFile opens path for appending, creating its directory.
// maxSizeMB <= 0 disables rotation.
func NewRotatingFile(path string, maxSizeMB int64, maxBackups int, compress bool) (*RotatingFile, error) {
	r := &RotatingFile{
		path:       path,
		maxBytes:   maxSizeMB * 1024 * 1024,
		maxBackups: maxBackups,
		compress:   compress,
		now:        time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RotatingFile) open() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	rotated := r.backupName(r.now())
	if err := os.Rename(r.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if err := r.open(); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.compress {
			compressFile(rotated)
		}
		r.prune()
	}()
	return nil
}

func (r *RotatingFile) backupName(t time.Time) string {
	ext := filepath.Ext(r.path)
	base := strings.TrimSuffix(r.path, ext)
	return fmt.Sprintf("%s-%s%s", base, t.Format("20060102-150405.000"), ext)
}

// Backups lists rotated files, oldest first.
func (r *RotatingFile) Backups() ([]string, error) {
	ext := filepath.Ext(r.path)
	base := strings.TrimSuffix(r.path, ext)
	matches, err := filepath.Glob(base + "-*" + ext + "*")
	if err != nil {
		return nil, err
	}
	// The timestamp format sorts lexically.
	sort.Strings(matches)
	return matches, nil
}

func (r *RotatingFile) prune() {
	if r.maxBackups <= 0 {
		return
	}
	backups, err := r.Backups()
	if err != nil {
		return
	}
	for len(backups) > r.maxBackups {
		os.Remove(backups[0])
		backups = backups[1:]
	}
}

// compressFile gzips path to path.gz and removes path.
func compressFile(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)

	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}

	os.Remove(path)
}

// Close waits for background compression and closes the file.
func (r *RotatingFile) Close() error {
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes the file to disk.
func (r *RotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}
