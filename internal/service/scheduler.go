package service

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// NewScheduler creates a scheduler whose calendar jobs fire in the named
// time zone. A job still running when it is due again skips that run.
func NewScheduler(timezone string) (gocron.Scheduler, error) {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("err loading scheduler time zone '%s': %w", timezone, err)
	}
	return gocron.NewScheduler(
		gocron.WithLocation(location),
		gocron.WithGlobalJobOptions(gocron.WithSingletonMode(gocron.LimitModeReschedule)),
	)
}
