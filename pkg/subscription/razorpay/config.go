package razorpay

import (
	"net/http"
	"time"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.razorpay.com"

// Transport headers carried by webhook deliveries.
const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"
)

// Config holds API credentials and the webhook secret.
type Config struct {
	KeyID         string        `env:"RAZORPAY_KEY_ID,required"`
	KeySecret     string        `env:"RAZORPAY_KEY_SECRET,required"`
	WebhookSecret string        `env:"RAZORPAY_WEBHOOK_SECRET,required"`
	BaseURL       string        `env:"RAZORPAY_BASE_URL" envDefault:"https://api.razorpay.com"`
	Timeout       time.Duration `env:"RAZORPAY_TIMEOUT" envDefault:"15s"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}
