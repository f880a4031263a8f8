package schedule

import (
	"context"

	"encore.dev/cron"
)

// HourlyTrigger fires every registered "hourly" schedule.
var _ = cron.NewJob("schedule-hourly-trigger", cron.JobConfig{
	Title:    "Hourly Scheduled Run Trigger",
	Schedule: "0 * * * *",
	Endpoint: HourlyTrigger,
})

//encore:api private
func HourlyTrigger(ctx context.Context) error {
	if svc == nil {
		return nil
	}
	return svc.triggerBucket(ctx, "hourly")
}

// NightlyTrigger fires every registered "nightly" schedule.
var _ = cron.NewJob("schedule-nightly-trigger", cron.JobConfig{
	Title:    "Nightly Scheduled Run Trigger",
	Schedule: "0 3 * * *",
	Endpoint: NightlyTrigger,
})

//encore:api private
func NightlyTrigger(ctx context.Context) error {
	if svc == nil {
		return nil
	}
	return svc.triggerBucket(ctx, "nightly")
}
