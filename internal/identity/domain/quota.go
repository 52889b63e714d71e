package domain

import "time"

// DefaultFreeDailyUploads is the free plan ceiling.
const DefaultFreeDailyUploads = 2

// Unlimited is the remaining-count sentinel for plans without a ceiling.
const Unlimited = -1

// UploadCounter counts uploads for one account on one UTC calendar day.
type UploadCounter struct {
	AccountID string
	Day       string // YYYY-MM-DD in UTC
	Count     int
	UpdatedAt time.Time
}

// UTCDay returns the counter key for t. Days roll over at UTC midnight.
func UTCDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
