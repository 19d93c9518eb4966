package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts five-field expressions, six-field expressions with a
// leading seconds field, and descriptors such as "@hourly".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New returns a cron runner that understands the same expressions as Parse.
func New() *cron.Cron {
	return cron.New(cron.WithParser(Parser))
}

func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// GetTriggerInfo returns the previous and next firing times around refTime.
// Last is zero when the expression has not fired within the past year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       previous(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	return info, nil
}

// previous walks back hour by hour until a firing lands at or before ref,
// then walks forward to the latest such firing.
func previous(schedule cron.Schedule, ref time.Time) time.Time {
	for i := range 366 * 24 {
		start := ref.Add(-time.Duration(i+1) * time.Hour)
		candidate := schedule.Next(start)
		if candidate.After(ref) {
			continue
		}
		for {
			next := schedule.Next(candidate)
			if next.After(ref) {
				return candidate
			}
			candidate = next
		}
	}
	return time.Time{}
}
