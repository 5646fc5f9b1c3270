package transmission

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mniyk/guardian-agent/module"
)

// イベントの送信先
type EventSink interface {
	Write(event *module.Event) error
	Close() error
}

// 1行1イベントのJSONを書き出す
// 1イベントを1回の Write で渡すので失敗しても次の行に影響しない
type JSONLinesSink struct {
	mu sync.Mutex
	w  io.Writer
}

// 新しいJSONLinesSinkを作成
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w}
}

func (s *JSONLinesSink) Write(event *module.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.w.Write(data)
	return err
}

// 書き込み先は呼び出し側が所有する
func (s *JSONLinesSink) Close() error {
	return nil
}

// 複数のシンクへ同じイベントを渡す
type MultiSink []EventSink

func (m MultiSink) Write(event *module.Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Write(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
