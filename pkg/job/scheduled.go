package job

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
)

// scheduleConfig is a registered periodic task.
//
//nolint:betteralign // all fields contain pointers
type scheduleConfig struct {
	handler  func(context.Context) error
	name     string
	schedule string
}

// periodicJobs turns scheduled tasks into River periodic jobs and registers
// their executors. Each periodic job is unique per task for one minute so
// that a leader change does not run it twice in the same tick.
func periodicJobs(cfg *config) ([]*river.PeriodicJob, error) {
	jobs := make([]*river.PeriodicJob, 0, len(cfg.schedules))
	for _, sched := range cfg.schedules {
		schedule, err := parseCronSchedule(sched.schedule)
		if err != nil {
			return nil, fmt.Errorf("job: invalid cron schedule %q for %s: %w", sched.schedule, sched.name, err)
		}

		name := sched.name
		jobs = append(jobs, river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return &taskArgs{TaskName: name, UniqueKey: "periodic"}, &river.InsertOpts{
					MaxAttempts: 1,
					UniqueOpts:  river.UniqueOpts{ByArgs: true, ByPeriod: time.Minute},
				}
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		))

		cfg.registry.register(name, &scheduledTask{handler: sched.handler})
	}
	return jobs, nil
}

type cronSchedule struct {
	schedule cron.Schedule
}

func (s *cronSchedule) Next(current time.Time) time.Time {
	return s.schedule.Next(current)
}

func parseCronSchedule(expr string) (river.PeriodicSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &cronSchedule{schedule: schedule}, nil
}
