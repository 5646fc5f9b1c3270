package scanner

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// YARAサポートなしでビルドされた場合に返す
var ErrUnavailable = errors.New("signature scanning not available in this build")

// 組み込みのシグネチャ
//
//go:embed default.yar
var DefaultRules string

// ファイルのシグネチャ照合
// 戻り値の順序はスキャナが決める（先頭が代表のルール名になる）
type Scanner interface {
	Scan(path string) ([]string, error)
}

// 関数をScannerとして使う
type Func func(path string) ([]string, error)

func (f Func) Scan(path string) ([]string, error) { return f(path) }

// スキャナの設定
type Config struct {
	RulesDir string        // 追加の .yar / .yara ファイル
	Timeout  time.Duration // 1ファイルあたり
}

// RulesDir 内のルールファイルを名前順で取得
func ruleFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}

	var files []string
	for _, pattern := range []string{"*.yar", "*.yara"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to find YARA rule files in directory: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
