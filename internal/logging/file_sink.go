package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"paywall_gateway/internal/models"
)

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	FilePathTemplate string        // e.g. "/var/log/paywall/audit-%s.jsonl"; %s receives a timestamp
	MaxSize          int64         // rotate once the active file would exceed this many bytes
	MaxFiles         int           // rotated files to keep
	BufferSize       int           // queued records before Enqueue starts dropping
	FlushInterval    time.Duration // flush the write buffer at least this often
}

// FileSink writes audit records as JSON Lines with size-based rotation.
// Writes happen on a background goroutine; Enqueue never blocks.
type FileSink struct {
	cfg FileSinkConfig

	mu          sync.Mutex
	currentFile string
	file        *os.File
	writer      *bufio.Writer
	currentSize int64
	dropped     int64

	recCh  chan *models.AuditRecord
	doneCh chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewFileSink opens the first audit file and starts the writer goroutine.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}

	s := &FileSink{
		cfg:    cfg,
		recCh:  make(chan *models.AuditRecord, cfg.BufferSize),
		doneCh: make(chan struct{}),
	}

	if err := s.openFile(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// newFileName applies the current timestamp to the file template.
func (s *FileSink) newFileName() string {
	return fmt.Sprintf(s.cfg.FilePathTemplate, time.Now().Format("20060102150405.000000000"))
}

// openFile opens the active audit file, creating its directory if needed.
// Callers other than the constructor must hold s.mu.
func (s *FileSink) openFile() error {
	s.currentFile = s.newFileName()

	dir := filepath.Dir(s.currentFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(s.currentFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	s.currentSize = fi.Size()
	s.file = file
	s.writer = bufio.NewWriter(file)
	return nil
}

// closeFile flushes and closes the active file. The sink has no open file
// afterwards, even on error. Callers must hold s.mu.
func (s *FileSink) closeFile() error {
	if s.file == nil {
		return nil
	}
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	s.writer = nil
	return errors.Join(flushErr, closeErr)
}

// needsRotation reports whether n more bytes would exceed MaxSize.
// Callers must hold s.mu.
func (s *FileSink) needsRotation(n int) bool {
	return s.cfg.MaxSize > 0 && s.currentSize > 0 && s.currentSize+int64(n) >= s.cfg.MaxSize
}

// cleanupOldFiles removes the oldest rotated files beyond MaxFiles.
func (s *FileSink) cleanupOldFiles() error {
	matches, err := filepath.Glob(fmt.Sprintf(s.cfg.FilePathTemplate, "*"))
	if err != nil {
		return err
	}

	// Timestamped names sort chronologically.
	sort.Strings(matches)

	excess := len(matches) - s.cfg.MaxFiles
	for i := 0; i < excess; i++ {
		_ = os.Remove(matches[i])
	}
	return nil
}

func (s *FileSink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-s.recCh:
			s.write(rec)
		case <-ticker.C:
			s.flush()
		case <-s.doneCh:
			for {
				select {
				case rec := <-s.recCh:
					s.write(rec)
				default:
					s.mu.Lock()
					_ = s.closeFile()
					s.mu.Unlock()
					return
				}
			}
		}
	}
}

// flush pushes buffered lines to disk. A failed flush closes the file so
// the next write reopens it.
func (s *FileSink) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		return
	}
	if err := s.writer.Flush(); err != nil {
		_ = s.closeFile()
	}
}

// write appends one record, rotating first when needed. When no file is
// open (a previous rotation or write failed) it tries to open a new one.
// Records that cannot be written are counted as dropped.
func (s *FileSink) write(rec *models.AuditRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil && s.needsRotation(len(data)) {
		_ = s.closeFile()
	}

	opened := false
	if s.file == nil {
		if err := s.openFile(); err != nil {
			s.dropped++
			return
		}
		opened = true
	}

	if _, err := s.writer.Write(data); err != nil {
		// A bufio.Writer stays failed after an error.
		_ = s.closeFile()
		s.dropped++
		return
	}
	s.currentSize += int64(len(data))

	if opened {
		_ = s.cleanupOldFiles()
	}
}

// Enqueue queues a record for writing. A full buffer drops the record and
// counts it; auditing never stalls a response.
func (s *FileSink) Enqueue(rec *models.AuditRecord) error {
	if rec == nil {
		return nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("audit file sink is closed")
	}

	select {
	case s.recCh <- rec:
		return nil
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return fmt.Errorf("audit file sink buffer full")
	}
}

// Dropped returns how many records were lost, either because the buffer
// was full or because the audit file could not be written.
func (s *FileSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// CurrentFile returns the path of the active audit file.
func (s *FileSink) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentFile
}

// Shutdown drains queued records, flushes and closes the file.
func (s *FileSink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
