package exitplan

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"scalpguard/internal/logger"
	"scalpguard/internal/strategy/exit"
)

//go:embed profile.schema.json
var profileSchemaJSON string

var ErrUnknownProfile = errors.New("unknown exit profile")

// Profile 是一组命名的仓位参数覆盖；nil 字段沿用默认值。
type Profile struct {
	ID              string   `mapstructure:"id" yaml:"id" json:"id,omitempty"`
	Description     string   `mapstructure:"description" yaml:"description" json:"description,omitempty"`
	TakeProfitPct   *float64 `mapstructure:"take_profit_pct" yaml:"take_profit_pct" json:"take_profit_pct,omitempty"`
	StopLossPct     *float64 `mapstructure:"stop_loss_pct" yaml:"stop_loss_pct" json:"stop_loss_pct,omitempty"`
	MaxHoldMs       *int64   `mapstructure:"max_hold_ms" yaml:"max_hold_ms" json:"max_hold_ms,omitempty"`
	TrailingEnabled *bool    `mapstructure:"trailing_enabled" yaml:"trailing_enabled" json:"trailing_enabled,omitempty"`
	MinProfitPct    *float64 `mapstructure:"min_profit_pct" yaml:"min_profit_pct" json:"min_profit_pct,omitempty"`
	MinProfitUSD    *float64 `mapstructure:"min_profit_usd" yaml:"min_profit_usd" json:"min_profit_usd,omitempty"`
	PositionSizeUSD *float64 `mapstructure:"position_size_usd" yaml:"position_size_usd" json:"position_size_usd,omitempty"`
	FeeRate         *float64 `mapstructure:"fee_rate" yaml:"fee_rate" json:"fee_rate,omitempty"`
	MinNetProfitUSD *float64 `mapstructure:"min_net_profit_usd" yaml:"min_net_profit_usd" json:"min_net_profit_usd,omitempty"`
}

// Apply 把覆盖项叠加到 base 上。
func (p Profile) Apply(base exit.PositionConfig) exit.PositionConfig {
	out := base
	if p.TakeProfitPct != nil {
		out.TakeProfitPct = *p.TakeProfitPct
	}
	if p.StopLossPct != nil {
		out.StopLossPct = *p.StopLossPct
	}
	if p.MaxHoldMs != nil {
		out.MaxHold = time.Duration(*p.MaxHoldMs) * time.Millisecond
	}
	if p.TrailingEnabled != nil {
		out.TrailingEnabled = *p.TrailingEnabled
	}
	if p.MinProfitPct != nil {
		out.MinProfitPct = *p.MinProfitPct
	}
	if p.MinProfitUSD != nil {
		out.MinProfitUSD = *p.MinProfitUSD
	}
	if p.PositionSizeUSD != nil {
		out.PositionSizeUSD = *p.PositionSizeUSD
	}
	if p.FeeRate != nil {
		out.FeeRate = *p.FeeRate
	}
	if p.MinNetProfitUSD != nil {
		out.MinNetProfitUSD = *p.MinNetProfitUSD
	}
	return out
}

// FileConfig 映射 exit_profiles。
type FileConfig struct {
	ExitProfiles map[string]Profile `yaml:"exit_profiles"`
}

// Snapshot 公开的 profile 快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// IDs 按字母序返回全部 profile ID。
func (s Snapshot) IDs() []string {
	out := make([]string, 0, len(s.Profiles))
	for id := range s.Profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理 exit profile，文件变更时热加载；加载失败时保留上一版快照。
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取 profile 文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("exit profile registry requires path")
	}
	schema, err := compileSchema(profileSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile exit profile schema failed: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read exit profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v, schema: schema}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("exit profile reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Empty 返回不含任何 profile 的 registry，仅能使用默认参数。
func Empty() *Registry {
	schema, err := compileSchema(profileSchemaJSON)
	if err != nil {
		logger.Errorf("compile exit profile schema failed: %v", err)
	}
	return &Registry{
		schema:   schema,
		snapshot: Snapshot{LoadedAt: time.Now(), Profiles: map[string]Profile{}},
	}
}

// Subscribe 注册重载回调，回调在独立 goroutine 中执行。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前 profile 集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Profile 返回指定 ID 的 profile。
func (r *Registry) Profile(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.TrimSpace(id)]
	return p, ok
}

// Resolve 用 profile 覆盖 base 并校验结果；id 为空时直接使用 base。
func (r *Registry) Resolve(id string, base exit.PositionConfig) (exit.PositionConfig, error) {
	return r.ResolveWithOverrides(id, base, nil)
}

// ResolveWithOverrides 在 profile 之上再叠加一次调用方给出的覆盖项（例如 HTTP 请求体）。
// 覆盖项同样经过 schema 校验，字符串形式的数字会被转换。
func (r *Registry) ResolveWithOverrides(id string, base exit.PositionConfig, overrides map[string]any) (exit.PositionConfig, error) {
	cfg := base
	if id = strings.TrimSpace(id); id != "" {
		p, ok := r.Profile(id)
		if !ok {
			return exit.PositionConfig{}, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
		}
		cfg = p.Apply(cfg)
	}
	if len(overrides) > 0 {
		p, err := r.decodeOverrides(overrides)
		if err != nil {
			return exit.PositionConfig{}, err
		}
		cfg = p.Apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return exit.PositionConfig{}, err
	}
	return cfg, nil
}

func (r *Registry) decodeOverrides(raw map[string]any) (Profile, error) {
	sanitized, ok := sanitizeParams(raw).(map[string]any)
	if !ok {
		return Profile{}, fmt.Errorf("invalid overrides")
	}
	if err := r.validateValue(sanitized); err != nil {
		return Profile{}, fmt.Errorf("invalid overrides: %w", err)
	}
	var p Profile
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return Profile{}, err
	}
	if err := dec.Decode(sanitized); err != nil {
		return Profile{}, fmt.Errorf("decode overrides failed: %w", err)
	}
	return p, nil
}

func (r *Registry) validateValue(v any) error {
	if r.schema == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// jsonschema v5 要求数字为 json.Number。
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return r.schema.Validate(doc)
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	profiles := make(map[string]Profile, len(cfg.ExitProfiles))
	for name, p := range cfg.ExitProfiles {
		norm := normalizeProfile(name, p)
		if err := r.validateValue(norm); err != nil {
			return fmt.Errorf("exit profile %s invalid: %w", norm.ID, err)
		}
		if _, dup := profiles[norm.ID]; dup {
			return fmt.Errorf("exit profile id %s defined twice", norm.ID)
		}
		profiles[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("Exit profile registry loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("exit profile listener")
			cb(snap)
		}(fn)
	}
}

func normalizeProfile(name string, p Profile) Profile {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = strings.TrimSpace(name)
	}
	p.Description = strings.TrimSpace(p.Description)
	return p
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for id, p := range src.Profiles {
		dst.Profiles[id] = p
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("profile.schema.json", strings.NewReader(src)); err != nil {
		return nil, err
	}
	return compiler.Compile("profile.schema.json")
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read exit profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse exit profile config failed: %w", err)
	}
	return cfg, nil
}

// sanitizeParams 递归把字符串形式的数字转为 float64，兼容 "0.3" 与 0.3 两种写法。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[strings.ToLower(strings.TrimSpace(k))] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return val
	default:
		return val
	}
}
