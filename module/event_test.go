package module

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestEventJSONRoundTrip(t *testing.T) {
	kinds := []Kind{
		&FileIntegrity{Path: "/tmp/guardian-test/a.txt", Operation: OperationCreate},
		&FileIntegrity{Path: "/etc/passwd", Operation: OperationModify, Hash: strPtr("abc123")},
		&NetworkSocket{LocalAddr: "10.0.0.2:50000", RemoteAddr: strPtr("10.0.0.5:4444"), Protocol: "tcp", State: "ESTABLISHED"},
		&NetworkSocket{LocalAddr: "0.0.0.0:22", Protocol: "tcp", State: "LISTEN"},
		&SystemLog{Source: "sshd", Level: "warning", Message: "failed password"},
		&ProcessMonitor{PID: 42, Name: "system", CPUUsage: 12.5, MemoryUsage: 1 << 30},
	}

	for _, kind := range kinds {
		t.Run(kind.Type(), func(t *testing.T) {
			original := NewEvent(SeverityMedium, kind, "test-host").AddTag("unit")
			if kind.Type() == TypeFileIntegrity {
				original.SetRule("critical_file_modification")
			}

			data, err := json.Marshal(original)
			require.NoError(t, err)

			decoded, err := ParseEvent(data)
			require.NoError(t, err)

			assert.True(t, original.Timestamp.Equal(decoded.Timestamp))
			decoded.Timestamp = original.Timestamp
			assert.Equal(t, original, decoded)
		})
	}
}

func TestEventWireFormat(t *testing.T) {
	event := NewEvent(SeverityHigh, &FileIntegrity{
		Path:      "/tmp/guardian-test/x",
		Operation: OperationDelete,
	}, "test-host")

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Equal(t, "file_integrity", fields["type"])
	assert.Equal(t, "HIGH", fields["severity"])
	assert.Equal(t, "delete", fields["operation"])
	assert.Equal(t, "/tmp/guardian-test/x", fields["path"])
	assert.Equal(t, false, fields["rule_triggered"])
	assert.Equal(t, []any{}, fields["tags"])

	for _, key := range []string{"hash", "rule_name"} {
		value, present := fields[key]
		assert.True(t, present, "missing %s", key)
		assert.Nil(t, value)
	}
	for _, key := range []string{"id", "timestamp", "hostname"} {
		assert.Contains(t, fields, key)
	}
	assert.NotContains(t, fields, "Kind")
}

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1], ordered[i])
	}
	assert.Equal(t, "CRITICAL", SeverityCritical.String())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		name    string
		want    Severity
		wantErr bool
	}{
		{name: "INFO", want: SeverityInfo},
		{name: "medium", want: SeverityMedium},
		{name: "Critical", want: SeverityCritical},
		{name: "urgent", wantErr: true},
		{name: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeverity(tt.name)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnknownSeverity))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{
			name: "unknown type",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"dns_query","hostname":"h","tags":[],"rule_triggered":false,"rule_name":null}`,
			want: ErrUnknownEventType,
		},
		{
			name: "rule flag without name",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"system_log","hostname":"h","tags":[],"rule_triggered":true,"rule_name":null,"source":"s","level":"info","message":"m"}`,
			want: ErrInconsistentRule,
		},
		{
			name: "rule name without flag",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"system_log","hostname":"h","tags":[],"rule_triggered":false,"rule_name":"x","source":"s","level":"info","message":"m"}`,
			want: ErrInconsistentRule,
		},
		{
			name: "unknown severity",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"SEVERE","type":"system_log","hostname":"h","tags":[],"rule_triggered":false,"rule_name":null,"source":"s","level":"info","message":"m"}`,
			want: ErrUnknownSeverity,
		},
		{
			name: "unknown operation",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"file_integrity","hostname":"h","tags":[],"rule_triggered":false,"rule_name":null,"path":"/x","operation":"truncate","hash":null}`,
			want: ErrUnknownOperation,
		},
		{
			name: "type only",
			line: `{"type":"system_log"}`,
			want: ErrMissingField,
		},
		{
			name: "variant fields missing",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"file_integrity","hostname":"h","rule_name":null}`,
			want: ErrMissingField,
		},
		{
			name: "missing hostname",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"system_log","source":"s","level":"info","message":"m"}`,
			want: ErrMissingField,
		},
		{
			name: "null operation",
			line: `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"file_integrity","hostname":"h","path":"/x","operation":null}`,
			want: ErrMissingField,
		},
		{
			name: "id not a uuid",
			line: `{"id":"not-a-uuid","timestamp":"2026-10-19T10:00:00Z","severity":"LOW","type":"process_monitor","hostname":"h","pid":1,"name":"n","cpu_usage":0,"memory_usage":0}`,
			want: ErrInvalidID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.line))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestParseEventDefaultsOptionalFields(t *testing.T) {
	line := `{"id":"8c0e4a3e-5b7f-4d2a-9f43-2a1d6e0b7c11","timestamp":"2026-10-19T10:00:00Z","severity":"MEDIUM","type":"file_integrity","hostname":"h","path":"/x","operation":"modify"}`

	event, err := ParseEvent([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, []string{}, event.Tags)
	assert.False(t, event.RuleTriggered)
	assert.Nil(t, event.RuleName)

	fi, ok := event.FileIntegrity()
	require.True(t, ok)
	assert.Equal(t, OperationModify, fi.Operation)
	assert.Nil(t, fi.Hash)
}

func TestMarshalWithoutKindFails(t *testing.T) {
	_, err := json.Marshal(&Event{ID: "1"})
	assert.Error(t, err)
}

func TestEventAccessors(t *testing.T) {
	event := NewEvent(SeverityInfo, &ProcessMonitor{PID: 1, Name: "system"}, "h")

	_, ok := event.FileIntegrity()
	assert.False(t, ok)
	pm, ok := event.ProcessMonitor()
	require.True(t, ok)
	assert.Equal(t, "system", pm.Name)

	event.AddTag("a").AddTag("b")
	assert.Equal(t, []string{"a", "b"}, event.Tags)
}
