package transmission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mniyk/guardian-agent/internal/metrics"
	"github.com/mniyk/guardian-agent/internal/rules"
	"github.com/mniyk/guardian-agent/module"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*module.Event
	fail   func(*module.Event) bool
	closed bool
}

func (s *recordingSink) Write(event *module.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil && s.fail(event) {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() []*module.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*module.Event(nil), s.events...)
}

type noMatch struct{}

func (noMatch) Evaluate(*module.Event) (string, bool) { return "", false }

func runDispatcher(d *Dispatcher) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run()
	}()
	return done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcherStampsRules(t *testing.T) {
	q := NewQueue(10, nil)
	sink := &recordingSink{}
	m := metrics.NewMetrics()
	d := NewDispatcher(q, rules.NewEngine(), sink, zaptest.NewLogger(t), m)
	done := runDispatcher(d)

	ctx := context.Background()
	passwd := module.NewEvent(module.SeverityHigh, &module.FileIntegrity{
		Path: "/etc/passwd", Operation: module.OperationModify,
	}, "h")
	quiet := module.NewEvent(module.SeverityLow, &module.FileIntegrity{
		Path: "/tmp/guardian-test/a.txt", Operation: module.OperationCreate,
	}, "h")
	require.NoError(t, q.Send(ctx, passwd))
	require.NoError(t, q.Send(ctx, quiet))

	q.Close()
	waitDone(t, done)

	got := sink.snapshot()
	require.Len(t, got, 2)

	assert.True(t, got[0].RuleTriggered)
	require.NotNil(t, got[0].RuleName)
	assert.Equal(t, rules.CriticalFileModification, *got[0].RuleName)

	assert.False(t, got[1].RuleTriggered)
	assert.Nil(t, got[1].RuleName)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesTriggered.WithLabelValues(rules.CriticalFileModification)))
}

func TestDispatcherKeepsExistingRuleWithoutMatch(t *testing.T) {
	q := NewQueue(1, nil)
	sink := &recordingSink{}
	done := runDispatcher(NewDispatcher(q, noMatch{}, sink, zaptest.NewLogger(t), nil))

	event := sampleEvent("file_monitor", 1).SetRule("eicar_test_file")
	require.NoError(t, q.Send(context.Background(), event))
	q.Close()
	waitDone(t, done)

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "eicar_test_file", *got[0].RuleName)
	assert.Equal(t, []string{"file_monitor"}, got[0].Tags)
}

func TestDispatcherPreservesPerProducerOrder(t *testing.T) {
	const perProducer = 500

	q := NewQueue(4, nil)
	sink := &recordingSink{}
	done := runDispatcher(NewDispatcher(q, rules.NewEngine(), sink, zaptest.NewLogger(t), nil))

	producers := []string{"file_monitor", "system_monitor"}
	var wg sync.WaitGroup
	for _, name := range producers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := uint32(1); i <= perProducer; i++ {
				if err := q.Send(context.Background(), sampleEvent(name, i)); err != nil {
					t.Errorf("send failed: %v", err)
					return
				}
			}
		}(name)
	}
	wg.Wait()
	q.Close()
	waitDone(t, done)

	got := sink.snapshot()
	require.Len(t, got, perProducer*len(producers))

	// プロデューサ間の順序は検証しない
	last := map[string]uint32{}
	for _, event := range got {
		pm, ok := event.ProcessMonitor()
		require.True(t, ok)
		assert.Equal(t, last[pm.Name]+1, pm.PID, "out of order for %s", pm.Name)
		last[pm.Name] = pm.PID
	}
	for _, name := range producers {
		assert.Equal(t, uint32(perProducer), last[name])
	}
}

func TestDispatcherContinuesAfterSinkError(t *testing.T) {
	q := NewQueue(10, nil)
	m := metrics.NewMetrics()
	sink := &recordingSink{fail: func(e *module.Event) bool {
		pm, _ := e.ProcessMonitor()
		return pm.PID == 2
	}}
	done := runDispatcher(NewDispatcher(q, rules.NewEngine(), sink, zaptest.NewLogger(t), m))

	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, q.Send(context.Background(), sampleEvent("p", i)))
	}
	q.Close()
	waitDone(t, done)

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDispatched))
}

func TestDispatcherDetachesQueueOnExit(t *testing.T) {
	q := NewQueue(1, nil)
	done := runDispatcher(NewDispatcher(q, rules.NewEngine(), &recordingSink{}, zaptest.NewLogger(t), nil))
	q.Close()
	waitDone(t, done)

	err := q.Send(context.Background(), sampleEvent("p", 1))
	assert.True(t, errors.Is(err, ErrConsumerGone))
}
