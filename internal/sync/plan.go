package sync

import (
	"time"

	"cloud.google.com/go/civil"
)

// Mode is the sync mode decided for one account.
type Mode string

const (
	// ModeFull pulls the provider's full available history.
	ModeFull Mode = "full"
	// ModeIncremental pulls transactions dated after the latest local one.
	ModeIncremental Mode = "incremental"
	// ModeAutoFull is a full pull forced by staleness rather than by the
	// caller. Distinguished from ModeFull for diagnostics.
	ModeAutoFull Mode = "full_auto"
)

// staleThreshold promotes an incremental sync to a full one. The
// provider's windowed transaction API is not trusted to cover gaps
// longer than this.
const staleThreshold = 48 * time.Hour

// Plan is the outcome of planning one account's sync. From is nil for
// full pulls and set to the day after the latest local transaction for
// incremental ones.
type Plan struct {
	Mode Mode
	From *civil.Date
}

// PlanSync decides the sync mode for a single account. It is pure:
// lastDate is the latest locally stored transaction date (nil when the
// account has no history), force is the caller's explicit flag and now
// is the current time. Planning runs independently per account.
func PlanSync(lastDate *civil.Date, force bool, now time.Time) Plan {
	if force {
		return Plan{Mode: ModeFull}
	}
	if lastDate == nil {
		return Plan{Mode: ModeFull}
	}
	if now.Sub(lastDate.In(time.UTC)) > staleThreshold {
		return Plan{Mode: ModeAutoFull}
	}
	from := lastDate.AddDays(1)
	return Plan{Mode: ModeIncremental, From: &from}
}
