package rules

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mniyk/guardian-agent/module"
)

var ErrDuplicateName = errors.New("rule name already registered")

// 名前付きのイベント判定（登録後は変更しない）
type Rule interface {
	Name() string
	Matches(event *module.Event) bool
}

type funcRule struct {
	name string
	fn   func(*module.Event) bool
}

func (r funcRule) Name() string { return r.name }
func (r funcRule) Matches(event *module.Event) bool { return r.fn(event) }

// 関数をRuleとして使う
func Func(name string, fn func(*module.Event) bool) Rule {
	return funcRule{name: name, fn: fn}
}

// ルールを登録順に保持（組み込みが先、追加分はその後）
// Evaluate は不変のスナップショットを読むので Add と競合しない
type Engine struct {
	mu    sync.Mutex
	rules atomic.Pointer[[]Rule]
}

// 新しいEngineを作成（組み込みルールの後に extra を並べる）
func NewEngine(extra ...Rule) *Engine {
	e := &Engine{}
	rules := append(Builtin(), extra...)
	e.rules.Store(&rules)
	return e
}

// 既存のルールの後に追加
func (e *Engine) Add(rules ...Rule) {
	if len(rules) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.rules.Load()
	next := make([]Rule, 0, len(current)+len(rules))
	next = append(next, current...)
	next = append(next, rules...)
	e.rules.Store(&next)
}

// 名前が重複しない場合だけ追加（一つでも重複すれば何も追加しない）
func (e *Engine) Register(rules ...Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.rules.Load()
	seen := make(map[string]bool, len(current)+len(rules))
	for _, rule := range current {
		seen[rule.Name()] = true
	}
	for _, rule := range rules {
		if seen[rule.Name()] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, rule.Name())
		}
		seen[rule.Name()] = true
	}

	next := make([]Rule, 0, len(current)+len(rules))
	next = append(next, current...)
	next = append(next, rules...)
	e.rules.Store(&next)
	return nil
}

// 最初に一致したルール名を返す
func (e *Engine) Evaluate(event *module.Event) (string, bool) {
	for _, rule := range *e.rules.Load() {
		if rule.Matches(event) {
			return rule.Name(), true
		}
	}
	return "", false
}

// 評価順のルール名
func (e *Engine) Names() []string {
	rules := *e.rules.Load()
	names := make([]string, len(rules))
	for i, rule := range rules {
		names[i] = rule.Name()
	}
	return names
}
