// Package platform provides cgroup-aware resource monitoring used for
// admission control: the dispatcher drops new ingress frames when the
// host is already saturated, the way the teacher's ws server
// gates new websocket connections on container CPU headroom.
package platform

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUMonitor reports CPU usage relative to the process's cgroup quota
// rather than the host's total core count, so a container limited to
// 1.0 CPU sees 100% at one full core saturated instead of 12.5% on a
// 8-core host. On a host with no cgroup CPU controller (no container
// limits in effect), it falls back to whole-host measurement via
// gopsutil.
type CPUMonitor struct {
	mu             sync.Mutex
	lastUsec       uint64
	lastSampleTime time.Time
	cgroupPath     string
	cgroupVersion  int
	allocatedCPUs  float64
	hostFallback   bool
}

// NewCPUMonitor detects the current process's cgroup and quota.
func NewCPUMonitor() (*CPUMonitor, error) {
	path, version, constrained, err := detectCgroupPath()
	if err != nil {
		return nil, fmt.Errorf("platform: detect cgroup: %w", err)
	}
	if !constrained {
		return &CPUMonitor{hostFallback: true, allocatedCPUs: float64(runtime.NumCPU())}, nil
	}

	quota, period, err := readCPUQuota(path, version)
	if err != nil {
		return nil, fmt.Errorf("platform: read cpu quota: %w", err)
	}

	allocated := float64(runtime.NumCPU())
	if quota > 0 && period > 0 {
		allocated = float64(quota) / float64(period)
	}

	usage, err := readCPUUsage(path, version)
	if err != nil {
		return nil, fmt.Errorf("platform: read initial cpu usage: %w", err)
	}

	return &CPUMonitor{
		lastUsec:       usage,
		lastSampleTime: time.Now(),
		cgroupPath:     path,
		cgroupVersion:  version,
		allocatedCPUs:  allocated,
	}, nil
}

// Percent returns CPU usage (0-100+, can exceed 100 under throttling
// measurement noise) as a fraction of the cgroup's allocated CPUs since
// the previous call.
func (m *CPUMonitor) Percent() (float64, error) {
	if m.hostFallback {
		samples, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil {
			return 0, fmt.Errorf("platform: gopsutil cpu.Percent: %w", err)
		}
		if len(samples) == 0 {
			return 0, fmt.Errorf("platform: gopsutil returned no samples")
		}
		return samples[0], nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsedUsec := now.Sub(m.lastSampleTime).Microseconds()
	if elapsedUsec <= 0 {
		return 0, fmt.Errorf("platform: sample interval too small")
	}

	usage, err := readCPUUsage(m.cgroupPath, m.cgroupVersion)
	if err != nil {
		return 0, err
	}
	delta := usage - m.lastUsec
	m.lastUsec = usage
	m.lastSampleTime = now

	raw := (float64(delta) / float64(elapsedUsec)) * 100.0
	if m.allocatedCPUs <= 0 {
		return raw, nil
	}
	return raw / m.allocatedCPUs, nil
}

// detectCgroupPath reports whether a real cgroup CPU controller is in
// effect for this process. The constrained bool is false on a bare host
// (no container runtime), in which case the caller should fall back to
// whole-host measurement instead of treating "/sys/fs/cgroup" as if it
// were a meaningful quota source.
func detectCgroupPath() (path string, version int, constrained bool, err error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			// cgroup v2 unified hierarchy.
			if _, err := os.Stat("/sys/fs/cgroup/cpu.max"); err == nil {
				return "/sys/fs/cgroup", 2, true, nil
			}
		}
		if strings.Contains(parts[1], "cpu") {
			path := "/sys/fs/cgroup/cpu" + parts[2]
			if _, err := os.Stat(path); err == nil {
				return path, 1, true, nil
			}
		}
	}
	// No cgroup CPU controller detected; not running under a container
	// limit, fall back to host-wide measurement.
	return "", 0, false, nil
}

func readCPUQuota(path string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(path + "/cpu.max")
		if err != nil {
			return -1, 100000, nil
		}
		fields := strings.Fields(strings.TrimSpace(string(data)))
		if len(fields) != 2 {
			return -1, 100000, nil
		}
		if fields[0] == "max" {
			return -1, 100000, nil
		}
		q, _ := strconv.ParseInt(fields[0], 10, 64)
		p, _ := strconv.ParseInt(fields[1], 10, 64)
		return q, p, nil
	}

	qData, err := os.ReadFile(path + "/cpu.cfs_quota_us")
	if err != nil {
		return -1, 100000, nil
	}
	pData, err := os.ReadFile(path + "/cpu.cfs_period_us")
	if err != nil {
		return -1, 100000, nil
	}
	q, _ := strconv.ParseInt(strings.TrimSpace(string(qData)), 10, 64)
	p, _ := strconv.ParseInt(strings.TrimSpace(string(pData)), 10, 64)
	return q, p, nil
}

func readCPUUsage(path string, version int) (uint64, error) {
	if version == 2 {
		data, err := os.ReadFile(path + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "usage_usec") {
				fields := strings.Fields(line)
				if len(fields) == 2 {
					v, _ := strconv.ParseUint(fields[1], 10, 64)
					return v, nil
				}
			}
		}
		return 0, fmt.Errorf("platform: usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(path + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nsec / 1000, nil
}
