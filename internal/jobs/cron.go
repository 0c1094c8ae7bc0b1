package jobs

import (
	"github.com/robfig/cron/v3"

	"jobdemo/internal/shared"
)

// cronParser accepts 5-field, 6-field (leading seconds) and @descriptor expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses expr into a schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, shared.Validationf("cron expression is empty")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindValidation)
	}
	return sched, nil
}
