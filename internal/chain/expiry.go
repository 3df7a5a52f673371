package chain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/models"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// FormatTime renders t the way ledgers expect expiry timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// ExpiresAt resolves a transfer's absolute expiry against now. A relative
// expiry_duration (seconds) wins over an existing expires_at; a transfer with
// neither has no expiry and yields "".
func ExpiresAt(now time.Time, t *models.Transfer) (string, error) {
	if t.ExpiryDuration == "" {
		return t.ExpiresAt, nil
	}
	seconds, err := decimal.NewFromString(t.ExpiryDuration.String())
	if err != nil {
		return "", domain.NewConfigurationError("invalid expiry_duration " + t.ExpiryDuration.String())
	}
	if seconds.IsNegative() {
		return "", domain.NewConfigurationError("negative expiry_duration " + t.ExpiryDuration.String())
	}
	ms := seconds.Shift(3).IntPart()
	return FormatTime(now.Add(time.Duration(ms) * time.Millisecond)), nil
}
