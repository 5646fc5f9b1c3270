//go:build yara

package scanner

import (
	"fmt"
	"os"
	"time"

	"github.com/hillu/go-yara/v4"
)

const defaultTimeout = 10 * time.Second

// YARAによるシグネチャ照合
// コンパイル済みのルールは読み取り専用で、並行スキャンで共有できる
type Yara struct {
	rules   *yara.Rules
	timeout time.Duration
}

// 組み込みルールと RulesDir のルールをコンパイル
func NewYara(config Config) (*Yara, error) {
	compiler, err := yara.NewCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to create YARA compiler: %w", err)
	}
	defer compiler.Destroy()

	if err := compiler.AddString(DefaultRules, "default"); err != nil {
		return nil, fmt.Errorf("failed to compile default rules: %w", err)
	}

	files, err := ruleFiles(config.RulesDir)
	if err != nil {
		return nil, err
	}
	for _, ruleFile := range files {
		content, err := os.ReadFile(ruleFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule file %s: %w", ruleFile, err)
		}
		if err := compiler.AddString(string(content), ruleFile); err != nil {
			return nil, fmt.Errorf("failed to compile rule file %s: %w", ruleFile, err)
		}
	}

	rules, err := compiler.GetRules()
	if err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Yara{rules: rules, timeout: timeout}, nil
}

// 一致したルールの識別子を返す
func (y *Yara) Scan(path string) ([]string, error) {
	var matches yara.MatchRules
	if err := y.rules.ScanFile(path, 0, y.timeout, &matches); err != nil {
		return nil, fmt.Errorf("YARA scan failed for file %s: %w", path, err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Rule)
	}
	return ids, nil
}

func (y *Yara) Close() error {
	if y.rules != nil {
		y.rules.Destroy()
		y.rules = nil
	}
	return nil
}
