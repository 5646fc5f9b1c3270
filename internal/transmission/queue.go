package transmission

import (
	"context"
	"errors"
	"sync"

	"github.com/mniyk/guardian-agent/internal/metrics"
	"github.com/mniyk/guardian-agent/module"
)

// 受信側（Dispatcher）が終了した後の送信で返す
var ErrConsumerGone = errors.New("event consumer is gone")

// プロデューサと Dispatcher の間の有限キュー
// 満杯の間 Send はブロックし、イベントを破棄しない
type Queue struct {
	events    chan *module.Event
	gone      chan struct{}
	goneOnce  sync.Once
	closeOnce sync.Once
	metrics   *metrics.Metrics
}

// 新しいQueueを作成
func NewQueue(capacity int, m *metrics.Metrics) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		events:  make(chan *module.Event, capacity),
		gone:    make(chan struct{}),
		metrics: m,
	}
}

// イベントを送信（送信後、呼び出し側はイベントを変更しない）
func (q *Queue) Send(ctx context.Context, event *module.Event) error {
	select {
	case <-q.gone:
		return ErrConsumerGone
	default:
	}

	select {
	case q.events <- event:
		q.metrics.SetQueueDepth(len(q.events))
		return nil
	case <-q.gone:
		return ErrConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// 受信側のチャネル
func (q *Queue) Events() <-chan *module.Event {
	return q.events
}

func (q *Queue) Len() int { return len(q.events) }

func (q *Queue) Cap() int { return cap(q.events) }

// 送信終了を通知（すべての送信者が停止した後に呼ぶ）
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.events)
	})
}

// 受信側の終了を通知し、ブロック中の送信を解放する
func (q *Queue) Detach() {
	q.goneOnce.Do(func() {
		close(q.gone)
	})
}
