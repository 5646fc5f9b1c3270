package system

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/config"
	"github.com/mniyk/guardian-agent/internal/metrics"
	"github.com/mniyk/guardian-agent/module"
)

const (
	MODULE_NAME      = config.SystemMonitorModule
	MONITOR_INTERVAL = 1 * time.Second
	PROCESS_NAME     = "system"
)

// System Monitoringの設定の構造体
type MonitorConfig struct {
	Interval time.Duration
}

// 新しいMonitorConfigを作成
func NewMonitorConfig(moduleConfig config.Config) *MonitorConfig {
	return &MonitorConfig{
		Interval: moduleConfig.Duration("interval", MONITOR_INTERVAL),
	}
}

// 監視のための構造体
// イベントはプロセス単位の形だが、値はシステム全体の集計
type Monitor struct {
	config   MonitorConfig
	hostname string
	provider Provider
	logger   *zap.Logger
	metrics  *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// 新しいMonitorを作成
// provider が nil の場合はOS標準のものを使う
func NewMonitor(config *MonitorConfig, hostname string, provider Provider, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if provider == nil {
		provider = NewProvider()
	}
	return &Monitor{
		config:   *config,
		hostname: hostname,
		provider: provider,
		logger:   logger.Named(MODULE_NAME),
		metrics:  m,
	}
}

// モジュールを初期化
func (m *Monitor) Initialize() error {
	m.logger.Info("Initialize...", zap.Duration("interval", m.config.Interval))

	if m.config.Interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %s", MODULE_NAME, m.config.Interval)
	}

	// CPU使用率の基準値を取得（初回は差分がない）
	if _, err := m.provider.Sample(); err != nil {
		m.logger.Warn("Failed initial sample", zap.Error(err))
	}
	return nil
}

// モニタリングを開始
func (m *Monitor) Start(ctx context.Context, sender module.Sender) error {
	m.logger.Info("Start...")

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.startSampling(ctx, sender)
	}()

	return nil
}

// モニタリングを停止
func (m *Monitor) Stop() error {
	m.logger.Info("Stop...")

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return nil
}

// 一定間隔で取得するループを実行
func (m *Monitor) startSampling(ctx context.Context, sender module.Sender) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event, err := m.sample()
			if err != nil {
				m.logger.Warn("Failed sampling system metrics", zap.Error(err))
				continue
			}

			if err := sender.Send(ctx, event); err != nil {
				if ctx.Err() == nil {
					m.logger.Error("Event consumer is gone, stopping", zap.Error(err))
				}
				return
			}
			m.metrics.IncProduced(MODULE_NAME)
		}
	}
}

// システム全体の値からイベントを作成
func (m *Monitor) sample() (*module.Event, error) {
	s, err := m.provider.Sample()
	if err != nil {
		return nil, err
	}

	return module.NewEvent(module.SeverityInfo, &module.ProcessMonitor{
		PID:         uint32(os.Getpid()),
		Name:        PROCESS_NAME,
		CPUUsage:    s.CPUUsage,
		MemoryUsage: s.MemoryUsed,
	}, m.hostname).AddTag(MODULE_NAME), nil
}
