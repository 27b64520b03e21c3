package config

import "maps"

// RedactedConfig returns a copy of cfg with credentials replaced by "***",
// safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.WebhookSecret)

	// Copy reference types so the redacted value does not alias cfg.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Genesis.Balances = maps.Clone(cfg.Genesis.Balances)
	out.Genesis.Collections = append([]GenesisCollection(nil), cfg.Genesis.Collections...)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
