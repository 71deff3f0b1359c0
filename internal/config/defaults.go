package config

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	viper.SetDefault("storage.path", "~/.crucible/crucible.db")

	viper.SetDefault("capture.dir", "~/.crucible/captures")
	viper.SetDefault("capture.drain_grace", 5*time.Second)

	viper.SetDefault("executor.shell", "sh")
	viper.SetDefault("executor.default_timeout", 10*time.Minute)
	viper.SetDefault("executor.poll_interval", 1*time.Second)

	viper.SetDefault("sandbox.root", "~/.crucible/sandboxes")

	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.port", 8713)

	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.schedule", "0 3 * * *")
	viper.SetDefault("retention.max_age", "168h")

	viper.SetDefault("eval.parallel", 1)
	viper.SetDefault("eval.test_timeout", 30*time.Minute)
	viper.SetDefault("eval.result_file", "result.json")
}
