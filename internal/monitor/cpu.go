package monitor

import (
	"sync"
	"syscall"
	"time"
)

// cpuTracker derives process CPU percent from rusage deltas between
// consecutive samples. The first sample reports 0.
type cpuTracker struct {
	mu         sync.Mutex
	lastWallNs int64
	lastCPUNs  int64
}

func (t *cpuTracker) sample() float64 {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	cpuNs := timevalNs(ru.Utime) + timevalNs(ru.Stime)
	wallNs := time.Now().UnixNano()

	t.mu.Lock()
	defer t.mu.Unlock()
	prevWall, prevCPU := t.lastWallNs, t.lastCPUNs
	t.lastWallNs, t.lastCPUNs = wallNs, cpuNs
	if prevWall == 0 || wallNs <= prevWall {
		return 0
	}
	return 100 * float64(cpuNs-prevCPU) / float64(wallNs-prevWall)
}

func timevalNs(tv syscall.Timeval) int64 {
	return tv.Sec*1_000_000_000 + tv.Usec*1_000
}
