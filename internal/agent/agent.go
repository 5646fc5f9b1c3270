package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/config"
	"github.com/mniyk/guardian-agent/internal/hostinfo"
	"github.com/mniyk/guardian-agent/internal/metrics"
	"github.com/mniyk/guardian-agent/internal/rules"
	"github.com/mniyk/guardian-agent/internal/scanner"
	"github.com/mniyk/guardian-agent/internal/server"
	"github.com/mniyk/guardian-agent/internal/transmission"
	"github.com/mniyk/guardian-agent/module"
	"github.com/mniyk/guardian-agent/module/file"
	"github.com/mniyk/guardian-agent/module/system"
)

const CLIENT_NAME = "guardian-agent"

var ErrNoModules = errors.New("no monitoring module is active")

// 起動時に差し替えられる依存
type Options struct {
	Stdout   io.Writer       // nil なら os.Stdout
	Scanner  scanner.Scanner // nil なら設定から作成
	Provider system.Provider // nil ならOS標準
}

// 監視エージェント
// プロデューサ → Queue → Dispatcher → シンク の順に流れる
type Agent struct {
	configs *config.Configs
	logger  *zap.Logger
	metrics *metrics.Metrics
	host    *hostinfo.HostInfo

	engine     *rules.Engine
	scanner    scanner.Scanner
	queue      *transmission.Queue
	sink       transmission.EventSink
	dispatcher *transmission.Dispatcher
	manager    *module.Manager
}

// 新しいAgentを作成
// ルールファイルの誤りは起動エラー、スキャナとNATSの失敗は警告のみ
func New(configs *config.Configs, logger *zap.Logger, opts Options) (*Agent, error) {
	a := &Agent{
		configs: configs,
		logger:  logger,
		metrics: metrics.NewMetrics(),
		host:    hostinfo.NewHostInfo(configs.Hostname),
	}

	engine, err := LoadRules(configs.Rules, logger)
	if err != nil {
		return nil, err
	}
	a.engine = engine

	a.scanner = opts.Scanner
	if a.scanner == nil {
		a.scanner = NewScanner(configs.Scanner, logger)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	a.sink = a.buildSinks(stdout)

	a.queue = transmission.NewQueue(configs.QueueCapacity, a.metrics)
	a.dispatcher = transmission.NewDispatcher(a.queue, a.engine, a.sink, logger.Named("dispatcher"), a.metrics)

	a.manager = module.NewManager(configs)
	if err := a.registerModules(opts.Provider); err != nil {
		return nil, err
	}

	return a, nil
}

// 組み込みルールとルールファイルからEngineを作成
func LoadRules(cfg config.RulesConfig, logger *zap.Logger) (*rules.Engine, error) {
	engine := rules.NewEngine()
	if cfg.File == "" {
		return engine, nil
	}

	extra, err := rules.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	if err := engine.Register(extra...); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.File, err)
	}
	logger.Info("Loaded rule file", zap.String("file", cfg.File), zap.Int("rules", len(extra)))
	return engine, nil
}

// 設定からスキャナを作成（使えない場合は nil）
func NewScanner(cfg config.ScannerConfig, logger *zap.Logger) scanner.Scanner {
	if !cfg.Enabled {
		logger.Info("Signature scanning disabled")
		return nil
	}

	y, err := scanner.NewYara(scanner.Config{RulesDir: cfg.RulesDir, Timeout: cfg.Timeout})
	if err != nil {
		logger.Warn("Signature scanning unavailable, continuing without it", zap.Error(err))
		return nil
	}

	cached, err := scanner.NewCached(y, cfg.CacheSize)
	if err != nil {
		logger.Warn("Scan cache disabled", zap.Error(err))
		return y
	}
	return cached
}

// 設定されたシンクを作成
func (a *Agent) buildSinks(stdout io.Writer) transmission.EventSink {
	var sinks transmission.MultiSink

	if a.configs.Sink.Stdout {
		sinks = append(sinks, transmission.NewJSONLinesSink(stdout))
	}

	if natsCfg := a.configs.Sink.NATS; natsCfg.URL != "" {
		if sink, err := a.natsSink(natsCfg); err != nil {
			a.logger.Warn("NATS sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
			a.logger.Info("Publishing events to NATS", zap.String("url", natsCfg.URL), zap.String("subject", natsCfg.Subject))
		}
	}

	if len(sinks) == 0 {
		a.logger.Warn("No event sink configured, events will be discarded")
	}
	return sinks
}

func (a *Agent) natsSink(cfg config.NATSConfig) (transmission.EventSink, error) {
	nc, err := transmission.ConnectNATS(cfg.URL, CLIENT_NAME, a.logger.Named("nats"))
	if err != nil {
		return nil, err
	}
	sink, err := transmission.NewNATSSink(nc, cfg.Subject, cfg.Compress)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return sink, nil
}

// モジュールを登録
func (a *Agent) registerModules(provider system.Provider) error {
	for name, moduleConfig := range a.configs.Modules {
		var moduleInstance module.Module

		switch name {
		case config.FileMonitorModule:
			cfg := file.NewMonitorConfig(moduleConfig)
			moduleInstance = file.NewMonitor(cfg, a.host.Hostname, a.scanner, a.logger, a.metrics)
		case config.SystemMonitorModule:
			cfg := system.NewMonitorConfig(moduleConfig)
			moduleInstance = system.NewMonitor(cfg, a.host.Hostname, provider, a.logger, a.metrics)
		default:
			a.logger.Warn("Unknown module in configuration", zap.String("module", name))
		}

		if moduleInstance != nil {
			if err := a.manager.RegisterModule(name, moduleInstance); err != nil {
				return fmt.Errorf("failed %s registration: %w", name, err)
			}
		}
	}
	return nil
}

func (a *Agent) Metrics() *metrics.Metrics { return a.metrics }

// ctx がキャンセルされるまで監視を実行
// 停止時はプロデューサを止めてからキューを閉じ、残りのイベントを送り切る
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Start security monitoring...",
		zap.String("hostname", a.host.Hostname),
		zap.String("user", a.host.UserName),
		zap.Strings("rules", a.engine.Names()),
		zap.Bool("scanner", a.scanner != nil))

	defer a.closeResources()

	initErrors := a.manager.InitializeAllModules()
	for _, name := range sortedKeys(initErrors) {
		// 監視ルートを用意できない場合のみ起動を中止する
		if name == config.FileMonitorModule {
			return fmt.Errorf("failed initialize module (%s): %w", name, initErrors[name])
		}
		a.logger.Warn("Module disabled", zap.String("module", name), zap.Error(initErrors[name]))
	}
	if len(a.manager.ActiveModules()) == 0 {
		return ErrNoModules
	}

	var srv *server.Server
	if a.configs.MetricsAddr != "" {
		srv = server.New(a.configs.MetricsAddr, server.Deps{
			Registry: a.metrics.Registry,
			Status:   a.manager,
			Queue:    a.queue,
			Rules:    a.engine,
		}, a.logger)
		if err := srv.Start(); err != nil {
			a.logger.Warn("Metrics server disabled", zap.Error(err))
			srv = nil
		}
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		a.dispatcher.Run()
	}()

	startErrors := a.manager.StartAllModules(ctx, a.queue)
	for _, name := range sortedKeys(startErrors) {
		a.logger.Error("Failed start module", zap.String("module", name), zap.Error(startErrors[name]))
	}
	a.logger.Info("Monitoring", zap.Strings("modules", a.manager.ActiveModules()))

	<-ctx.Done()
	a.logger.Info("Start cleanup...")

	stopErrors := a.manager.StopAllModules()
	for _, name := range sortedKeys(stopErrors) {
		a.logger.Warn("Failed stop module", zap.String("module", name), zap.Error(stopErrors[name]))
	}

	a.queue.Close()
	<-dispatched

	if srv != nil {
		if err := srv.Shutdown(); err != nil {
			a.logger.Warn("Failed stopping metrics server", zap.Error(err))
		}
	}

	a.logger.Info("Stop security monitoring...")
	return nil
}

// シンクとスキャナを閉じる
func (a *Agent) closeResources() {
	if err := a.sink.Close(); err != nil {
		a.logger.Warn("Failed closing sinks", zap.Error(err))
	}
	if closer, ok := a.scanner.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("Failed closing scanner", zap.Error(err))
		}
	}
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
