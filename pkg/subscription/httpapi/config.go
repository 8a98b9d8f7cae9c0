package httpapi

// Config is loaded from the environment.
type Config struct {
	// AdminToken guards the /admin routes. Empty leaves them unmounted.
	AdminToken         string `env:"ADMIN_TOKEN"`
	WebhookMaxBodySize int64  `env:"WEBHOOK_MAX_BODY_SIZE" envDefault:"1048576"`
	DeadLetterPageSize int    `env:"DEADLETTER_PAGE_SIZE" envDefault:"100"`
}
