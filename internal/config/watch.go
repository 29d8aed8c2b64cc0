package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变更，变更后重新解析并回调 onChange
// 只在 Load 指定了配置文件路径时生效
func Watch(onChange func(cfg *Config, event fsnotify.Event)) bool {
	mu.RLock()
	path := configPath
	mu.RUnlock()
	if path == "" {
		return false
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		cfg, err := unmarshal()
		if err == nil {
			globalConfig = cfg
		}
		mu.Unlock()
		if err != nil || onChange == nil {
			return
		}
		onChange(cfg, e)
	})
	viper.WatchConfig()
	return true
}
