package fetcher

import (
	"bytes"
	"io"
	"os"
)

// LocalFile is the result of a fetch: either bytes in memory or a scoped
// temp file on disk. Size always reflects the actual bytes retrieved,
// regardless of what the remote declared.
type LocalFile struct {
	Path string // Empty when held in memory
	Size int64
	data []byte
}

// InMemory reports whether the payload is buffered rather than on disk
func (lf *LocalFile) InMemory() bool {
	return lf.Path == ""
}

// Open returns a reader over the payload
func (lf *LocalFile) Open() (io.ReadCloser, error) {
	if lf.InMemory() {
		return io.NopCloser(bytes.NewReader(lf.data)), nil
	}
	return os.Open(lf.Path)
}

// Bytes returns the payload, reading it from disk when streamed
func (lf *LocalFile) Bytes() ([]byte, error) {
	if lf.InMemory() {
		return lf.data, nil
	}
	return os.ReadFile(lf.Path)
}

// Head returns up to n leading bytes for content sniffing
func (lf *LocalFile) Head(n int) ([]byte, error) {
	if lf.InMemory() {
		if len(lf.data) < n {
			n = len(lf.data)
		}
		return lf.data[:n], nil
	}
	f, err := os.Open(lf.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return buf[:read], err
}

// Cleanup removes the backing temp file, if any. Safe to call repeatedly.
func (lf *LocalFile) Cleanup() {
	if lf.Path != "" {
		os.Remove(lf.Path)
		lf.Path = ""
	}
	lf.data = nil
}
