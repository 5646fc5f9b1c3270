package system

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnsupported = errors.New("system metrics not supported on this platform")

// 1回分の集計値
type Sample struct {
	CPUUsage   float32 // 全CPUの使用率（%）
	MemoryUsed uint64  // 使用中メモリ（バイト）
}

// システム全体の値を取得する
type Provider interface {
	Sample() (Sample, error)
}

// /proc/stat の cpu 行の累計
type cpuTimes struct {
	idle  uint64
	total uint64
}

// /proc/stat の先頭の cpu 行を読む
func parseCPUTimes(data []byte) (cpuTimes, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}

		var times cpuTimes
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("failed to parse cpu field %q: %w", field, err)
			}
			// guest と guest_nice は user と nice に含まれている
			if i >= 8 {
				break
			}
			times.total += v
			// idle と iowait
			if i == 3 || i == 4 {
				times.idle += v
			}
		}
		return times, nil
	}
	return cpuTimes{}, errors.New("cpu line not found in stat")
}

// 前回からの差分で使用率を計算
func cpuUsage(prev, cur cpuTimes) float32 {
	if cur.total <= prev.total {
		return 0
	}
	total := cur.total - prev.total
	var idle uint64
	if cur.idle > prev.idle {
		idle = cur.idle - prev.idle
	}
	if idle > total {
		return 0
	}
	return float32(float64(total-idle) / float64(total) * 100)
}

// /proc/meminfo から MemTotal - MemAvailable を計算
func parseMemUsed(data []byte) (uint64, error) {
	var total, available uint64
	var haveTotal, haveAvailable bool

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		var target *uint64
		switch fields[0] {
		case "MemTotal:":
			target, haveTotal = &total, true
		case "MemAvailable:":
			target, haveAvailable = &available, true
		default:
			continue
		}

		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", fields[0], err)
		}
		// 単位は kB
		*target = v * 1024
	}

	if !haveTotal || !haveAvailable {
		return 0, errors.New("MemTotal or MemAvailable missing from meminfo")
	}
	if available > total {
		return 0, nil
	}
	return total - available, nil
}
