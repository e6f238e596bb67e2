package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 中文说明：
// 配置装载。主配置可以通过 include 引入分层底座（典型拆法：
// 融合权重一层、安全阈值一层、持久化路径一层），被包含者先合并、
// 包含者最后合并，后写入的键覆盖先写入的。装载完成后只对文件里
// 确实没出现过的键补默认值——显式写成零值的键视为用户本意。

// Load 读取并合并 path 及其 include 链，补默认值后做一次整体校验。
func Load(path string) (*Config, error) {
	layers, err := expandIncludes(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for _, layer := range layers {
		if err := mergeLayer(v, layer); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", layer, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	present := make(keySet)
	flattenKeys("", v.AllSettings(), present)
	cfg.applyDefaults(present)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeLayer(v *viper.Viper, path string) error {
	layer := viper.New()
	layer.SetConfigFile(path)
	if err := layer.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(layer.AllSettings())
}

// expandIncludes 展开 include 链，返回合并顺序（被包含者在前）。
// 同一文件只出现一次，成环直接报错。
func expandIncludes(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]bool)
	visiting := make(map[string]bool)
	layers, err := walkIncludes(abs, merged, visiting)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return []string{abs}, nil
	}
	return layers, nil
}

func walkIncludes(path string, merged, visiting map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if visiting[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if merged[path] {
		return nil, nil
	}
	visiting[path] = true
	defer delete(visiting, path)

	includes, err := readIncludeKey(path)
	if err != nil {
		return nil, fmt.Errorf("parsing include failed (%s): %w", path, err)
	}

	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		sub, err := walkIncludes(inc, merged, visiting)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	merged[path] = true
	return append(ordered, path), nil
}

// readIncludeKey 取出文件顶层的 include 列表；缺省即无包含。
func readIncludeKey(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	switch val := raw.(type) {
	case []string:
		return trimNonEmpty(val), nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("include only supports strings")
			}
			out = append(out, str)
		}
		return trimNonEmpty(out), nil
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// flattenKeys 把合并后的配置树压成点号路径并标记到 present，
// 供 applyDefaults 区分「用户写了零值」与「用户没写」。
func flattenKeys(prefix string, node any, present keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			if next := joinKey(prefix, k); next != prefix {
				flattenKeys(next, child, present)
			}
		}
	case map[interface{}]interface{}:
		for k, child := range val {
			key, ok := k.(string)
			if !ok {
				continue
			}
			if next := joinKey(prefix, key); next != prefix {
				flattenKeys(next, child, present)
			}
		}
	case []any:
		if prefix != "" {
			present.mark(prefix)
		}
		for _, item := range val {
			flattenKeys(prefix, item, present)
		}
	default:
		if prefix != "" {
			present.mark(prefix)
		}
	}
}

func joinKey(prefix, key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return prefix
	}
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
