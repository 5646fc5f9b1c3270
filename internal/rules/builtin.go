package rules

import (
	"strings"

	"github.com/mniyk/guardian-agent/module"
)

const (
	CriticalFileModification = "critical_file_modification"
	HighSeverityAlert        = "high_severity_alert"
	SuspiciousNetwork        = "suspicious_network"
	HighCPUUsage             = "high_cpu_usage"

	highCPUThreshold = 90.0
)

var (
	criticalPaths   = []string{"/etc/passwd", "/etc/shadow", "/etc/sudoers"}
	suspiciousPorts = []string{":4444", ":31337"}
)

// 組み込みルール（この順で評価する）
func Builtin() []Rule {
	return []Rule{
		criticalFileModification{},
		highSeverityAlert{},
		suspiciousNetwork{},
		highCPUUsage{},
	}
}

type criticalFileModification struct{}

func (criticalFileModification) Name() string { return CriticalFileModification }

func (criticalFileModification) Matches(event *module.Event) bool {
	fi, ok := event.FileIntegrity()
	if !ok {
		return false
	}
	if fi.Operation != module.OperationModify && fi.Operation != module.OperationDelete {
		return false
	}
	return containsAny(fi.Path, criticalPaths)
}

type highSeverityAlert struct{}

func (highSeverityAlert) Name() string { return HighSeverityAlert }

func (highSeverityAlert) Matches(event *module.Event) bool {
	return event.Severity >= module.SeverityHigh
}

type suspiciousNetwork struct{}

func (suspiciousNetwork) Name() string { return SuspiciousNetwork }

func (suspiciousNetwork) Matches(event *module.Event) bool {
	ns, ok := event.NetworkSocket()
	if !ok || ns.RemoteAddr == nil {
		return false
	}
	return containsAny(*ns.RemoteAddr, suspiciousPorts)
}

type highCPUUsage struct{}

func (highCPUUsage) Name() string { return HighCPUUsage }

func (highCPUUsage) Matches(event *module.Event) bool {
	pm, ok := event.ProcessMonitor()
	return ok && pm.CPUUsage > highCPUThreshold
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
