package music

import (
	"fmt"
	"strings"
)

// GetProviderByName 根据名称获取提供商
func GetProviderByName(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "netease", "网易云", "163":
		return ProviderNetEase, nil
	case "lrclib":
		return ProviderLRCLib, nil
	default:
		return "", fmt.Errorf("unknown provider name: %s", name)
	}
}

// ParseProviders 按配置顺序解析提供商列表，跳过重复项
func ParseProviders(names []string) ([]Provider, error) {
	seen := make(map[Provider]bool)
	var providers []Provider
	for _, name := range names {
		p, err := GetProviderByName(name)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no music providers configured")
	}
	return providers, nil
}
