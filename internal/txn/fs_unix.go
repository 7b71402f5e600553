//go:build unix

package txn

import (
	"os"
	"path/filepath"
	"syscall"
)

// sameFilesystem reports whether src and the directory that will hold dst
// live on the same device, so move can use rename(2) instead of copy+unlink.
func sameFilesystem(src, dst string) bool {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false
	}
	dstDir := filepath.Dir(dst)
	dstInfo, err := os.Stat(dstDir)
	if err != nil {
		return false
	}
	srcStat, ok1 := srcInfo.Sys().(*syscall.Stat_t)
	dstStat, ok2 := dstInfo.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return false
	}
	return srcStat.Dev == dstStat.Dev
}
