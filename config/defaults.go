package config

import "github.com/spf13/viper"

// SetDefaults installs default values on a Viper instance.
// Defaults mirror the behavior of a development deployment: local
// SQLite, no queue (in-process runner), modest concurrency.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8460)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.worker_token", "")

	v.SetDefault("database.path", "clipdex.db")

	v.SetDefault("classify.base_url", "https://api.openai.com/v1")
	v.SetDefault("classify.api_key", "")
	v.SetDefault("classify.model", "gpt-4o-mini")
	v.SetDefault("classify.max_tokens", 2000)
	v.SetDefault("classify.temperature", 0.2)
	v.SetDefault("classify.timeout_seconds", 120)
	v.SetDefault("classify.calls_per_minute", 60)

	v.SetDefault("jobs.workers", 10)
	v.SetDefault("jobs.batch_size", 10)
	v.SetDefault("jobs.active_ttl_seconds", 3600)
	v.SetDefault("jobs.terminal_ttl_seconds", 7200)
	v.SetDefault("jobs.pause_poll_seconds", 1)

	v.SetDefault("queue.publish_url", "")
	v.SetDefault("queue.token", "")
	v.SetDefault("queue.worker_url", "")
	v.SetDefault("queue.publish_per_second", 10)
	v.SetDefault("queue.timeout_seconds", 30)
}
