package authz

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watch loads the catalog at path into r and reloads it whenever the file
// changes. A file that fails to parse or validate leaves the active catalog
// in place.
func Watch(path string, r *Resolver, logger *zap.Logger) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	cat, err := catalogFromViper(v)
	if err != nil {
		return err
	}
	if err := r.Reload(cat); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := catalogFromViper(v)
		if err != nil {
			logger.Error("permission catalog rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := r.Reload(next); err != nil {
			logger.Warn("permission catalog not swapped", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("permission catalog reloaded", zap.String("file", e.Name), zap.Int("version", next.Version()))
	})
	v.WatchConfig()
	return nil
}
