package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/config"
	"github.com/mniyk/guardian-agent/internal/metrics"
	"github.com/mniyk/guardian-agent/internal/scanner"
	"github.com/mniyk/guardian-agent/module"
)

const (
	MODULE_NAME  = config.FileMonitorModule
	YARA_TAG     = "yara:"
	DIR_PERM     = 0o755
	NO_MAX_DEPTH = 0
)

// File Activity Monitoringの設定の構造体
type MonitorConfig struct {
	Path     string
	MaxDepth int // 0 は無制限
}

// 新しいMonitorConfigを作成
func NewMonitorConfig(moduleConfig config.Config) *MonitorConfig {
	return &MonitorConfig{
		Path:     moduleConfig.String("path", config.DefaultWatchPath),
		MaxDepth: moduleConfig.Int("max_depth", NO_MAX_DEPTH),
	}
}

// 監視のための構造体
type Monitor struct {
	config   MonitorConfig
	hostname string
	scanner  scanner.Scanner
	logger   *zap.Logger
	metrics  *metrics.Metrics

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// 新しいMonitorを作成
// sc が nil の場合はスキャンを行わない
func NewMonitor(config *MonitorConfig, hostname string, sc scanner.Scanner, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	return &Monitor{
		config:   *config,
		hostname: hostname,
		scanner:  sc,
		logger:   logger.Named(MODULE_NAME),
		metrics:  m,
	}
}

// モジュールを初期化
// 監視ルートを作成して配下のディレクトリをすべて監視対象にする
func (m *Monitor) Initialize() error {
	m.logger.Info("Initialize...", zap.String("path", m.config.Path))

	if err := os.MkdirAll(m.config.Path, DIR_PERM); err != nil {
		return fmt.Errorf("failed to create watch root %s: %w", m.config.Path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// ルート自体を監視できなければ起動できない
	if err := watcher.Add(m.config.Path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch root %s: %w", m.config.Path, err)
	}

	m.watcher = watcher
	m.addDirectoriesToWatch(m.config.Path)
	return nil
}

// モニタリングを開始
func (m *Monitor) Start(ctx context.Context, sender module.Sender) error {
	if m.watcher == nil {
		return fmt.Errorf("%s: not initialized", MODULE_NAME)
	}
	m.logger.Info("Start...")

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.processFileEvents(ctx, sender)
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

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// ルート以下のディレクトリを再帰的に監視対象に追加
func (m *Monitor) addDirectoriesToWatch(rootPath string) {
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 権限エラーや削除済みのディレクトリはスキップ
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		// 監視深さの制限をチェック
		if m.config.MaxDepth > NO_MAX_DEPTH && m.depth(path) > m.config.MaxDepth {
			return filepath.SkipDir
		}

		if err := m.watcher.Add(path); err != nil {
			m.logger.Warn("Failed watching directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("Failed walking directory tree", zap.String("path", rootPath), zap.Error(err))
	}
}

// 監視ルートからの深さ
func (m *Monitor) depth(path string) int {
	relPath, err := filepath.Rel(m.config.Path, path)
	if err != nil || relPath == "." {
		return 0
	}
	return len(strings.Split(relPath, string(os.PathSeparator)))
}

// ファイルシステムイベントを処理するループを実行
func (m *Monitor) processFileEvents(ctx context.Context, sender module.Sender) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			event := m.handleEvent(ev)
			if event == nil {
				continue
			}

			if err := sender.Send(ctx, event); err != nil {
				if ctx.Err() == nil {
					m.logger.Error("Event consumer is gone, stopping", zap.Error(err))
				}
				return
			}
			m.metrics.IncProduced(MODULE_NAME)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Failed watcher", zap.Error(err))
		}
	}
}

// 通知からイベントを作成（対象外の操作は nil）
func (m *Monitor) handleEvent(ev fsnotify.Event) *module.Event {
	operation, ok := operationOf(ev.Op)
	if !ok {
		// Rename と Chmod は現状イベントにしない
		m.logger.Debug("Ignored file operation", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
		return nil
	}

	var info os.FileInfo
	if operation != module.OperationDelete {
		info, _ = os.Stat(ev.Name)
	}

	// 新しいディレクトリは監視対象に追加
	if operation == module.OperationCreate && info != nil && info.IsDir() {
		m.addDirectoriesToWatch(ev.Name)
	}

	event := module.NewEvent(classifyPath(ev.Name), &module.FileIntegrity{
		Path:      ev.Name,
		Operation: operation,
		// TODO: compute a content hash once hashing is configurable per path
		Hash: nil,
	}, m.hostname).AddTag(MODULE_NAME)

	if info != nil && info.Mode().IsRegular() {
		m.scan(event, ev.Name)
	}

	m.logger.Debug("Detection new event",
		zap.String("path", ev.Name),
		zap.String("operation", string(operation)),
		zap.Stringer("severity", event.Severity))

	return event
}

// シグネチャ照合の結果をイベントに反映
func (m *Monitor) scan(event *module.Event, path string) {
	if m.scanner == nil {
		return
	}

	matches, err := m.scanner.Scan(path)
	if err != nil {
		m.metrics.IncScanErrors()
		m.logger.Warn("Failed scanning file", zap.String("path", path), zap.Error(err))
		return
	}
	if len(matches) == 0 {
		return
	}

	m.metrics.AddScanMatches(len(matches))
	m.logger.Warn("Signature matched", zap.String("path", path), zap.Strings("rules", matches))

	event.Severity = module.SeverityCritical
	event.SetRule(matches[0])
	for _, match := range matches {
		event.AddTag(YARA_TAG + match)
	}
}

// fsnotify の操作を変換
func operationOf(op fsnotify.Op) (module.FileOperation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return module.OperationCreate, true
	case op.Has(fsnotify.Write):
		return module.OperationModify, true
	case op.Has(fsnotify.Remove):
		return module.OperationDelete, true
	default:
		return "", false
	}
}

// パスから基本の重要度を決める
func classifyPath(path string) module.Severity {
	switch {
	case strings.Contains(path, "/etc") || strings.Contains(path, "passwd") || strings.Contains(path, "shadow"):
		return module.SeverityHigh
	case strings.HasSuffix(path, ".conf") || strings.HasSuffix(path, ".cfg"):
		return module.SeverityMedium
	default:
		return module.SeverityLow
	}
}
