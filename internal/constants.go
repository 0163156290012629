package internal

const (
	ConfigPath              = "config.json"
	DotEnvPath              = "./.env"
	PipelinePath            = "pipeline.yml"
	RunDirLayout            = "20060102_150405000"
	WebhookTriggerKeyHeader = "X-VerifyCI-Webhook-Key"
)
