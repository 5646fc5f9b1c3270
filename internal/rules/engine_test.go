package rules

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mniyk/guardian-agent/module"
)

func strPtr(s string) *string { return &s }

func fileEvent(sev module.Severity, path string, op module.FileOperation) *module.Event {
	return module.NewEvent(sev, &module.FileIntegrity{Path: path, Operation: op}, "localhost")
}

func TestBuiltinOrder(t *testing.T) {
	assert.Equal(t, []string{
		CriticalFileModification,
		HighSeverityAlert,
		SuspiciousNetwork,
		HighCPUUsage,
	}, NewEngine().Names())
}

func TestEvaluateBuiltins(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name  string
		event *module.Event
		want  string
	}{
		{
			name:  "passwd modify at any severity",
			event: fileEvent(module.SeverityInfo, "/etc/passwd", module.OperationModify),
			want:  CriticalFileModification,
		},
		{
			name:  "shadow delete",
			event: fileEvent(module.SeverityLow, "/etc/shadow", module.OperationDelete),
			want:  CriticalFileModification,
		},
		{
			name:  "sudoers modify wins over high severity",
			event: fileEvent(module.SeverityCritical, "/etc/sudoers.d/admin", module.OperationModify),
			want:  CriticalFileModification,
		},
		{
			name:  "passwd create only hits severity rule",
			event: fileEvent(module.SeverityHigh, "/etc/passwd", module.OperationCreate),
			want:  HighSeverityAlert,
		},
		{
			name: "critical system log",
			event: module.NewEvent(module.SeverityCritical, &module.SystemLog{
				Source: "kernel", Level: "error", Message: "System panic",
			}, "localhost"),
			want: HighSeverityAlert,
		},
		{
			name: "metasploit port",
			event: module.NewEvent(module.SeverityInfo, &module.NetworkSocket{
				LocalAddr: "10.0.0.2:51000", RemoteAddr: strPtr("10.0.0.5:4444"), Protocol: "tcp", State: "ESTABLISHED",
			}, "localhost"),
			want: SuspiciousNetwork,
		},
		{
			name: "elite port",
			event: module.NewEvent(module.SeverityLow, &module.NetworkSocket{
				LocalAddr: "0.0.0.0:22", RemoteAddr: strPtr("192.168.1.9:31337"), Protocol: "tcp", State: "SYN_SENT",
			}, "localhost"),
			want: SuspiciousNetwork,
		},
		{
			name: "cpu above threshold",
			event: module.NewEvent(module.SeverityInfo, &module.ProcessMonitor{
				PID: 1, Name: "system", CPUUsage: 95.0,
			}, "localhost"),
			want: HighCPUUsage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := engine.Evaluate(tt.event)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name  string
		event *module.Event
	}{
		{
			name:  "ordinary file",
			event: fileEvent(module.SeverityLow, "/tmp/guardian-test/notes.txt", module.OperationModify),
		},
		{
			name: "socket without remote",
			event: module.NewEvent(module.SeverityInfo, &module.NetworkSocket{
				LocalAddr: "0.0.0.0:4444", Protocol: "tcp", State: "LISTEN",
			}, "localhost"),
		},
		{
			name: "cpu exactly at threshold",
			event: module.NewEvent(module.SeverityInfo, &module.ProcessMonitor{
				PID: 1, Name: "system", CPUUsage: 90.0,
			}, "localhost"),
		},
		{
			name:  "medium config change",
			event: fileEvent(module.SeverityMedium, "/opt/app/app.conf", module.OperationModify),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := engine.Evaluate(tt.event)
			assert.False(t, ok)
			assert.Empty(t, got)
		})
	}
}

func TestFirstRegisteredRuleWins(t *testing.T) {
	always := func(*module.Event) bool { return true }
	never := func(*module.Event) bool { return false }

	engine := NewEngine(Func("custom_a", never), Func("custom_b", always))
	engine.Add(Func("custom_c", always))

	event := fileEvent(module.SeverityLow, "/tmp/x", module.OperationCreate)
	got, ok := engine.Evaluate(event)
	require.True(t, ok)
	assert.Equal(t, "custom_b", got)

	// 組み込みルールが優先される
	event = fileEvent(module.SeverityHigh, "/tmp/x", module.OperationCreate)
	got, _ = engine.Evaluate(event)
	assert.Equal(t, HighSeverityAlert, got)

	assert.Equal(t, []string{
		CriticalFileModification, HighSeverityAlert, SuspiciousNetwork, HighCPUUsage,
		"custom_a", "custom_b", "custom_c",
	}, engine.Names())
}

func TestAddDuringEvaluate(t *testing.T) {
	engine := NewEngine()
	event := fileEvent(module.SeverityLow, "/tmp/x", module.OperationCreate)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			engine.Evaluate(event)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			engine.Add(Func("noop", func(*module.Event) bool { return false }))
		}
	}()
	wg.Wait()

	assert.Len(t, engine.Names(), len(Builtin())+100)
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	never := func(*module.Event) bool { return false }
	engine := NewEngine()

	err := engine.Register(Func("custom_a", never), Func(HighSeverityAlert, never))
	assert.True(t, errors.Is(err, ErrDuplicateName))
	assert.Len(t, engine.Names(), len(Builtin()))

	err = engine.Register(Func("custom_a", never), Func("custom_a", never))
	assert.True(t, errors.Is(err, ErrDuplicateName))

	require.NoError(t, engine.Register(Func("custom_a", never)))
	assert.Equal(t, "custom_a", engine.Names()[len(Builtin())])
	assert.Error(t, engine.Register(Func("custom_a", never)))
}
