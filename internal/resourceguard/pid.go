package resourceguard

import "os"

func currentPID() int {
	return os.Getpid()
}
