package rules

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mniyk/guardian-agent/module"
)

var ErrInvalidDefinition = errors.New("invalid rule definition")

// ルール定義ファイルの構造体
type File struct {
	Version int          `yaml:"version"`
	Rules   []Definition `yaml:"rules"`
}

// 宣言的なルール定義
// 条件はすべてAND、各リスト内はOR
type Definition struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Enabled     *bool      `yaml:"enabled,omitempty"`
	Conditions  Conditions `yaml:"conditions"`
}

type Conditions struct {
	MinSeverity  string   `yaml:"min_severity,omitempty"`
	Types        []string `yaml:"types,omitempty"`
	Operations   []string `yaml:"operations,omitempty"`
	PathContains []string `yaml:"path_contains,omitempty"`
	PathSuffix   []string `yaml:"path_suffix,omitempty"`
	Tags         []string `yaml:"tags,omitempty"`
	RemotePorts  []int    `yaml:"remote_ports,omitempty"`
	MinCPU       *float64 `yaml:"min_cpu,omitempty"` // より大きい場合に一致
}

// ファイルからルールを読み込み
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// YAMLからルールを生成（無効化されたものは除外）
func Parse(data []byte) ([]Rule, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	seen := make(map[string]bool)
	rules := make([]Rule, 0, len(file.Rules))
	for i := range file.Rules {
		def := &file.Rules[i]
		if def.Enabled != nil && !*def.Enabled {
			continue
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: duplicate rule %q", ErrInvalidDefinition, def.Name)
		}
		rule, err := Compile(def)
		if err != nil {
			return nil, err
		}
		seen[def.Name] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// 定義をRuleに変換
func Compile(def *Definition) (Rule, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: rule %q: %s", ErrInvalidDefinition, def.Name, fmt.Sprintf(format, args...))
	}

	c := def.Conditions
	r := &definedRule{
		name:         def.Name,
		pathContains: c.PathContains,
		pathSuffix:   c.PathSuffix,
		tags:         c.Tags,
		minCPU:       c.MinCPU,
	}
	conditions := 0

	if c.MinSeverity != "" {
		sev, err := module.ParseSeverity(c.MinSeverity)
		if err != nil {
			return nil, fail("%v", err)
		}
		r.minSeverity = &sev
		conditions++
	}
	for _, t := range c.Types {
		switch t {
		case module.TypeFileIntegrity, module.TypeNetworkSocket, module.TypeSystemLog, module.TypeProcessMonitor:
			r.types = append(r.types, t)
		default:
			return nil, fail("unknown type %q", t)
		}
	}
	for _, op := range c.Operations {
		var parsed module.FileOperation
		if err := parsed.UnmarshalText([]byte(strings.ToLower(op))); err != nil {
			return nil, fail("%v", err)
		}
		r.operations = append(r.operations, parsed)
	}
	for _, port := range c.RemotePorts {
		if port < 1 || port > 65535 {
			return nil, fail("port %d out of range", port)
		}
		r.remotePorts = append(r.remotePorts, strconv.Itoa(port))
	}

	conditions += len(r.types) + len(r.operations) + len(r.remotePorts) +
		len(c.PathContains) + len(c.PathSuffix) + len(c.Tags)
	if c.MinCPU != nil {
		conditions++
	}
	if conditions == 0 {
		return nil, fail("at least one condition is required")
	}
	return r, nil
}

type definedRule struct {
	name         string
	minSeverity  *module.Severity
	types        []string
	operations   []module.FileOperation
	pathContains []string
	pathSuffix   []string
	tags         []string
	remotePorts  []string
	minCPU       *float64
}

func (r *definedRule) Name() string { return r.name }

func (r *definedRule) Matches(event *module.Event) bool {
	if r.minSeverity != nil && event.Severity < *r.minSeverity {
		return false
	}
	if len(r.types) > 0 && (event.Kind == nil || !slices.Contains(r.types, event.Kind.Type())) {
		return false
	}
	if len(r.tags) > 0 && !anyTag(event.Tags, r.tags) {
		return false
	}

	if len(r.operations) > 0 || len(r.pathContains) > 0 || len(r.pathSuffix) > 0 {
		fi, ok := event.FileIntegrity()
		if !ok {
			return false
		}
		if len(r.operations) > 0 && !slices.Contains(r.operations, fi.Operation) {
			return false
		}
		if len(r.pathContains) > 0 && !containsAny(fi.Path, r.pathContains) {
			return false
		}
		if len(r.pathSuffix) > 0 && !hasAnySuffix(fi.Path, r.pathSuffix) {
			return false
		}
	}

	if len(r.remotePorts) > 0 {
		ns, ok := event.NetworkSocket()
		if !ok || ns.RemoteAddr == nil {
			return false
		}
		_, port, err := net.SplitHostPort(*ns.RemoteAddr)
		if err != nil || !slices.Contains(r.remotePorts, port) {
			return false
		}
	}

	if r.minCPU != nil {
		pm, ok := event.ProcessMonitor()
		if !ok || float64(pm.CPUUsage) <= *r.minCPU {
			return false
		}
	}
	return true
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func anyTag(tags, want []string) bool {
	for _, tag := range tags {
		if slices.Contains(want, tag) {
			return true
		}
	}
	return false
}
