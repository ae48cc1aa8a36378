package jobs

import "time"

// CronUnit is the time unit of a cron schedule's period.
type CronUnit string

const (
	UnitDay    CronUnit = "day"
	UnitHour   CronUnit = "hour"
	UnitMinute CronUnit = "minute"
	UnitSecond CronUnit = "second"
)

func (u CronUnit) Valid() bool {
	switch u {
	case UnitDay, UnitHour, UnitMinute, UnitSecond:
		return true
	}
	return false
}

const (
	dayInSeconds    = 86400
	hourInSeconds   = 3600
	minuteInSeconds = 60
)

// Duration converts a (period, unit) pair into elapsed time.
//
// Pure arithmetic: no clamping, no errors. Callers that require
// period >= 0 must validate before calling.
func Duration(period int, unit CronUnit) time.Duration {
	secs := int64(period)
	switch unit {
	case UnitDay:
		secs *= dayInSeconds
	case UnitHour:
		secs *= hourInSeconds
	case UnitMinute:
		secs *= minuteInSeconds
	}
	return time.Duration(secs) * time.Second
}
