//go:build !unix

package chunkreader

import (
	"errors"
	"io"
	"os"
)

func mmapReader(f *os.File, size int64) (io.Reader, error) {
	return nil, errors.New("memory mapping not supported on this platform")
}
