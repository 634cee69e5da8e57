package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration. Wallet addresses are public and kept.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Telegram.Token)
	redact(&out.Telegram.TokenPassword)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so the redacted copy cannot be used to mutate cfg.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
