package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// columns are the indexed projections of a record.
type columns struct {
	email            string
	identityID       string
	subscriptionID   string
	sessionToken     string
	sessionExpiresAt *time.Time
	status           string
	endedAt          *time.Time
	oldestUsageDay   string
	record           []byte
}

func columnsOf(u *subscription.User) (columns, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return columns{}, fmt.Errorf("encode user record: %w", err)
	}

	c := columns{
		email:          normalizeEmail(u.Identity.Email),
		identityID:     u.Identity.ExternalID,
		subscriptionID: u.Subscription.ExternalID,
		sessionToken:   u.Session.Token,
		status:         string(u.Subscription.Status),
		endedAt:        u.Subscription.EndedAt,
		record:         raw,
	}
	if c.status == "" {
		c.status = string(subscription.StatusNone)
	}
	if c.sessionToken != "" {
		exp := u.Session.ExpiresAt
		c.sessionExpiresAt = &exp
	}
	for _, b := range u.Usage.DailyBuckets {
		if c.oldestUsageDay == "" || b.Date < c.oldestUsageDay {
			c.oldestUsageDay = b.Date
		}
	}
	return c, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
