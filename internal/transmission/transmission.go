package transmission

import (
	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/metrics"
	"github.com/mniyk/guardian-agent/module"
)

// ルール評価の実装すべきメソッドを定義
type Evaluator interface {
	Evaluate(event *module.Event) (string, bool)
}

// キューの唯一の受信者
// 受信順にルールを評価して結果を記録し、シンクへ渡す
type Dispatcher struct {
	queue   *Queue
	engine  Evaluator
	sink    EventSink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// 新しいDispatcherを作成
func NewDispatcher(queue *Queue, engine Evaluator, sink EventSink, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		engine:  engine,
		sink:    sink,
		logger:  logger,
		metrics: m,
	}
}

// キューが閉じられるまでイベントを処理
func (d *Dispatcher) Run() {
	defer d.queue.Detach()

	for event := range d.queue.Events() {
		d.metrics.SetQueueDepth(d.queue.Len())
		d.dispatch(event)
	}

	d.logger.Info("Event queue closed, dispatcher stopped")
}

func (d *Dispatcher) dispatch(event *module.Event) {
	if name, ok := d.engine.Evaluate(event); ok {
		event.SetRule(name)
		d.metrics.IncRuleTriggered(name)
	}

	// ここから先イベントは変更しない
	if err := d.sink.Write(event); err != nil {
		d.metrics.IncSinkErrors()
		d.logger.Error("Failed to forward event",
			zap.String("id", event.ID),
			zap.Error(err))
		return
	}
	d.metrics.IncDispatched()
}
