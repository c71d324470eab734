package configwatcher

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/pkg/logger"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounce = time.Second

// ApplyPolicy 重新读取配置目录并替换策略，失败时保留旧策略
func ApplyPolicy(dir string, store *config.PolicyStore) error {
	newCfg, err := config.LoadConfig(dir)
	if err != nil {
		return err
	}
	return store.Replace(newCfg.Policy)
}

// WatchPolicy 监听配置文件变化并热更新评分/解锁策略，直到 ctx 取消
func WatchPolicy(ctx context.Context, configPath string, store *config.PolicyStore) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	// 监听目录而非文件，编辑器的原子替换才不会丢失事件
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				// 防抖处理
				timer.Reset(debounce)
			}
		case <-timer.C:
			if err := ApplyPolicy(filepath.Dir(absPath), store); err != nil {
				logger.Log.Error("Failed to reload policy, keeping previous one", zap.Error(err))
				continue
			}
			p := store.Get()
			logger.Log.Info("Policy reloaded",
				zap.Int("pass_percent", p.Scoring.PassPercent),
				zap.Int("max_attempts", p.Scoring.MaxAttempts),
				zap.Float64("unlock_threshold", p.Unlock.Threshold),
				zap.String("combine", p.Knowledge.Combine),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Log.Error("Config watcher error", zap.Error(err))
		}
	}
}
