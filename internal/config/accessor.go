package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetByPath returns the value at a dotted path such as "llm.model".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %q", current, part)
		}
		current, ok = node[part]
		if !ok {
			return nil, fmt.Errorf("unknown config key %q", path)
		}
	}
	return current, nil
}

// Sanitize returns a copy of cfg with secrets masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.LLM.APIKey = maskString(cfg.LLM.APIKey)
	c.LLM.Fallbacks = make([]Endpoint, len(cfg.LLM.Fallbacks))
	for i, fb := range cfg.LLM.Fallbacks {
		fb.APIKey = maskString(fb.APIKey)
		c.LLM.Fallbacks[i] = fb
	}
	c.Telegram.Token = maskString(cfg.Telegram.Token)
	c.Server.APIKey = maskString(cfg.Server.APIKey)
	c.Server.WebhookSecret = maskString(cfg.Server.WebhookSecret)
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path of cfg in sorted order with its value.
func ListPaths(cfg *Config) ([]string, map[string]any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, nil, err
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, result, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenMap(path, val, result)
		default:
			result[path] = val
		}
	}
}
