//go:build unix

package chunkreader

import (
	"io"
	"os"
	"syscall"
)

// mmapRegion wraps a read-only memory map as an io.Reader, grounded on the
// same syscall.Mmap usage the pack's chunk-storage readers use.
type mmapRegion struct {
	data []byte
	pos  int
}

func mmapReader(f *os.File, size int64) (io.Reader, error) {
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mmapRegion{data: data}, nil
}

func (m *mmapRegion) Read(p []byte) (int, error) {
	if m.pos >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += n
	return n, nil
}
