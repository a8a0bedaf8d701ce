package ingestion

import (
	"bufio"
	"errors"
	"io"
	"os"
	"reflect"

	"github.com/pterm/pterm"
)

const readBufferSize = 64 * 1024

// IncrementalReader reads complete lines appended to a log file, tracking
// its byte position and detecting rotation.
type IncrementalReader struct {
	filePath     string
	lastPosition int64
	lastInode    int64 // inode on Unix, file index on Windows, 0 if unknown
	logger       *pterm.Logger
}

// NewIncrementalReader creates a reader starting at position.
func NewIncrementalReader(filePath string, position int64, logger *pterm.Logger) *IncrementalReader {
	return &IncrementalReader{
		filePath:     filePath,
		lastPosition: position,
		logger:       logger,
	}
}

func (r *IncrementalReader) Position() int64 { return r.lastPosition }

func (r *IncrementalReader) Inode() int64 { return r.lastInode }

// Restore resumes from a saved position. A changed inode or a shorter file
// is detected by the next ReadBatch like any other rotation.
func (r *IncrementalReader) Restore(position, inode int64) {
	r.lastPosition = position
	r.lastInode = inode
}

// SeekToEnd moves the reader past everything currently in the file.
func (r *IncrementalReader) SeekToEnd() error {
	file, err := os.Open(r.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	r.lastPosition = stat.Size()
	r.lastInode = getFileInode(stat)
	return nil
}

// ReadBatch returns up to maxLines complete new lines. A trailing line not
// yet terminated by a newline is left for the next call. A missing file is
// not an error; it yields no lines until it appears.
func (r *IncrementalReader) ReadBatch(maxLines int) ([]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Trace("Log file does not exist yet", r.logger.Args("path", r.filePath))
			return nil, nil
		}
		if errors.Is(err, os.ErrPermission) {
			r.logger.WithCaller().Error("Permission denied accessing log file",
				r.logger.Args("path", r.filePath, "error", err))
		}
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()

	inode := getFileInode(stat)

	// Rotation: file deleted and recreated
	if r.lastInode != 0 && inode != 0 && inode != r.lastInode {
		r.logger.Info("Log rotation detected: file deleted and recreated (inode changed)",
			r.logger.Args("path", r.filePath, "old_inode", r.lastInode, "new_inode", inode))
		r.lastPosition = 0
	}
	if inode != 0 {
		r.lastInode = inode
	}

	// Rotation: file truncated in place
	if size < r.lastPosition {
		r.logger.Info("Log rotation detected: file truncated",
			r.logger.Args("path", r.filePath, "old_size", r.lastPosition, "new_size", size))
		r.lastPosition = 0
	}

	if size == r.lastPosition {
		return nil, nil
	}

	if _, err := file.Seek(r.lastPosition, io.SeekStart); err != nil {
		return nil, err
	}

	reader := bufio.NewReaderSize(file, readBufferSize)
	var lines []string
	position := r.lastPosition
	for len(lines) < maxLines {
		raw, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// Line longer than the buffer: skip to its end
			skipped := int64(len(raw))
			for errors.Is(err, bufio.ErrBufferFull) {
				raw, err = reader.ReadSlice('\n')
				skipped += int64(len(raw))
			}
			if err != nil {
				break
			}
			position += skipped
			r.logger.Warn("Skipping oversized log line", r.logger.Args("path", r.filePath, "bytes", skipped))
			continue
		}
		if err != nil {
			// EOF or partial line: wait for the rest
			break
		}
		position += int64(len(raw))

		line := trimEOL(raw)
		if len(line) == 0 {
			continue
		}
		lines = append(lines, string(line))
	}

	r.logger.Trace("Read batch from log file",
		r.logger.Args("path", r.filePath, "lines_read", len(lines), "old_position", r.lastPosition, "new_position", position))

	r.lastPosition = position
	return lines, nil
}

// Reset rewinds the reader to the beginning of the file.
func (r *IncrementalReader) Reset() {
	r.logger.Info("Resetting reader to beginning", r.logger.Args("path", r.filePath))
	r.lastPosition = 0
	r.lastInode = 0
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// getFileInode returns a stable identifier for the file, 0 if unknown. Sys()
// is read via reflection so the same code serves Unix (Ino) and Windows
// (FileIndex).
func getFileInode(stat os.FileInfo) int64 {
	sys := stat.Sys()
	if sys == nil {
		return 0
	}

	v := reflect.ValueOf(sys)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0
	}

	if ino := v.FieldByName("Ino"); ino.IsValid() && ino.CanUint() {
		return int64(ino.Uint())
	}

	if high := v.FieldByName("FileIndexHigh"); high.IsValid() && high.CanUint() {
		low := uint64(0)
		if lowField := v.FieldByName("FileIndexLow"); lowField.IsValid() && lowField.CanUint() {
			low = lowField.Uint()
		}
		return int64((high.Uint() << 32) | low)
	}

	return 0
}
