package config

import "runtime"

// defaultWorkerCount mirrors the teacher's preference for deriving
// concurrency from the logical CPU count rather than a hardcoded constant.
func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
