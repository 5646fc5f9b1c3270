//go:build linux

package system

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const DEFAULT_PROC_ROOT = "/proc"

// /proc から値を読むProvider
type procProvider struct {
	root string

	mu   sync.Mutex
	prev cpuTimes
}

// 新しいProviderを作成
func NewProvider() Provider {
	return newProcProvider(DEFAULT_PROC_ROOT)
}

func newProcProvider(root string) *procProvider {
	return &procProvider{root: root}
}

func (p *procProvider) Sample() (Sample, error) {
	data, err := os.ReadFile(filepath.Join(p.root, "stat"))
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read cpu stat: %w", err)
	}
	cur, err := parseCPUTimes(data)
	if err != nil {
		return Sample{}, err
	}

	p.mu.Lock()
	usage := cpuUsage(p.prev, cur)
	if p.prev.total == 0 {
		usage = 0
	}
	p.prev = cur
	p.mu.Unlock()

	used, err := p.memUsed()
	if err != nil {
		return Sample{}, err
	}

	return Sample{CPUUsage: usage, MemoryUsed: used}, nil
}

// meminfo が読めない場合は sysinfo(2) を使う
func (p *procProvider) memUsed() (uint64, error) {
	if data, err := os.ReadFile(filepath.Join(p.root, "meminfo")); err == nil {
		if used, err := parseMemUsed(data); err == nil {
			return used, nil
		}
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("failed to read memory usage: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if free > total {
		return 0, nil
	}
	return total - free, nil
}
