package module

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrUnknownSeverity   = errors.New("unknown severity")
	ErrUnknownOperation  = errors.New("unknown file operation")
	ErrInconsistentRule  = errors.New("rule_triggered does not match rule_name")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidID         = errors.New("event id is not a UUID")
	errEmptyKindEncoding = errors.New("event kind encoded to an empty object")
)

// 重要度（Info < Low < Medium < High < Critical）
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"INFO", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// 大文字の名前でエンコード
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityInfo || s > SeverityCritical {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSeverity, int(s))
	}
	return []byte(severityNames[s]), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// 名前から重要度を取得（大文字小文字は区別しない）
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
}

// ファイル操作の種類
type FileOperation string

const (
	OperationCreate FileOperation = "create"
	OperationModify FileOperation = "modify"
	OperationDelete FileOperation = "delete"
	OperationRename FileOperation = "rename"
	OperationChmod  FileOperation = "chmod"
)

func (o *FileOperation) UnmarshalText(text []byte) error {
	switch op := FileOperation(text); op {
	case OperationCreate, OperationModify, OperationDelete, OperationRename, OperationChmod:
		*o = op
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, string(text))
	}
}

// イベント種別の識別子
const (
	TypeFileIntegrity  = "file_integrity"
	TypeNetworkSocket  = "network_socket"
	TypeSystemLog      = "system_log"
	TypeProcessMonitor = "process_monitor"
)

// Kind はイベント種別ごとのデータ。JSONではトップレベルに展開される
type Kind interface {
	Type() string
}

type FileIntegrity struct {
	Path      string        `json:"path"`
	Operation FileOperation `json:"operation"`
	Hash      *string       `json:"hash"`
}

type NetworkSocket struct {
	LocalAddr  string  `json:"local_addr"`
	RemoteAddr *string `json:"remote_addr"`
	Protocol   string  `json:"protocol"`
	State      string  `json:"state"`
}

type SystemLog struct {
	Source  string `json:"source"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// pid/name は集約値の場合もある（system_monitorはシステム全体）
type ProcessMonitor struct {
	PID         uint32  `json:"pid"`
	Name        string  `json:"name"`
	CPUUsage    float32 `json:"cpu_usage"`
	MemoryUsage uint64  `json:"memory_usage"`
}

func (*FileIntegrity) Type() string { return TypeFileIntegrity }
func (*NetworkSocket) Type() string { return TypeNetworkSocket }
func (*SystemLog) Type() string { return TypeSystemLog }
func (*ProcessMonitor) Type() string { return TypeProcessMonitor }

// イベントの構造体
type Event struct {
	ID            string
	Timestamp     time.Time
	Severity      Severity
	Kind          Kind
	Hostname      string
	Tags          []string
	RuleTriggered bool
	RuleName      *string
}

// 新しいEventを作成
func NewEvent(severity Severity, kind Kind, hostname string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Kind:      kind,
		Hostname:  hostname,
		Tags:      []string{},
	}
}

// タグを追加
func (e *Event) AddTag(tag string) *Event {
	e.Tags = append(e.Tags, tag)
	return e
}

// ルール一致を記録
func (e *Event) SetRule(name string) *Event {
	e.RuleTriggered = true
	e.RuleName = &name
	return e
}

// ファイル整合性イベントならその内容を返す
func (e *Event) FileIntegrity() (*FileIntegrity, bool) {
	fi, ok := e.Kind.(*FileIntegrity)
	return fi, ok
}

func (e *Event) NetworkSocket() (*NetworkSocket, bool) {
	ns, ok := e.Kind.(*NetworkSocket)
	return ns, ok
}

func (e *Event) ProcessMonitor() (*ProcessMonitor, bool) {
	pm, ok := e.Kind.(*ProcessMonitor)
	return pm, ok
}

// ワイヤ形式の共通部分
type eventHeader struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Severity      Severity  `json:"severity"`
	Type          string    `json:"type"`
	Hostname      string    `json:"hostname"`
	Tags          []string  `json:"tags"`
	RuleTriggered bool      `json:"rule_triggered"`
	RuleName      *string   `json:"rule_name"`
}

// 種別のフィールドをトップレベルに展開してエンコード
func (e *Event) MarshalJSON() ([]byte, error) {
	if e.Kind == nil {
		return nil, fmt.Errorf("%w: missing kind", ErrUnknownEventType)
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}

	head, err := json.Marshal(eventHeader{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		Severity:      e.Severity,
		Type:          e.Kind.Type(),
		Hostname:      e.Hostname,
		Tags:          tags,
		RuleTriggered: e.RuleTriggered,
		RuleName:      e.RuleName,
	})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(e.Kind)
	if err != nil {
		return nil, err
	}
	if len(body) <= 2 {
		return nil, errEmptyKindEncoding
	}

	var buf bytes.Buffer
	buf.Grow(len(head) + len(body))
	buf.Write(head[:len(head)-1])
	buf.WriteByte(',')
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// 省略できるのは tags, rule_triggered と Option 相当のフィールドだけ
var (
	headerFields = []string{"id", "timestamp", "severity", "type", "hostname"}
	kindFields   = map[string][]string{
		TypeFileIntegrity:  {"path", "operation"},
		TypeNetworkSocket:  {"local_addr", "protocol", "state"},
		TypeSystemLog:      {"source", "level", "message"},
		TypeProcessMonitor: {"pid", "name", "cpu_usage", "memory_usage"},
	}
)

func requireFields(fields map[string]json.RawMessage, names []string) error {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return nil
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if err := requireFields(fields, headerFields); err != nil {
		return err
	}

	var head eventHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if _, err := uuid.Parse(head.ID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, head.ID)
	}

	var kind Kind
	switch head.Type {
	case TypeFileIntegrity:
		kind = &FileIntegrity{}
	case TypeNetworkSocket:
		kind = &NetworkSocket{}
	case TypeSystemLog:
		kind = &SystemLog{}
	case TypeProcessMonitor:
		kind = &ProcessMonitor{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
	if err := requireFields(fields, kindFields[head.Type]); err != nil {
		return err
	}
	if err := json.Unmarshal(data, kind); err != nil {
		return fmt.Errorf("decode %s fields: %w", head.Type, err)
	}
	if head.RuleTriggered != (head.RuleName != nil) {
		return ErrInconsistentRule
	}
	if head.Tags == nil {
		head.Tags = []string{}
	}

	*e = Event{
		ID:            head.ID,
		Timestamp:     head.Timestamp,
		Severity:      head.Severity,
		Kind:          kind,
		Hostname:      head.Hostname,
		Tags:          head.Tags,
		RuleTriggered: head.RuleTriggered,
		RuleName:      head.RuleName,
	}
	return nil
}

// 1行分のJSONから復元
func ParseEvent(line []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
