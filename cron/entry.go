package cron

import (
	"errors"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
)

// Entry is a maintenance body fired on a schedule.
type Entry struct {
	Name     string           `json:"name"`
	Schedule string           `json:"schedule"`
	Lock     clusterlock.Spec `json:"lock"`
	Run      clusterlock.Body `json:"-"`
}

// Status describes a registered entry for listings.
type Status struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	LockName string    `json:"lock_name"`
	LockKind string    `json:"lock_kind"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

func (e Entry) validate() (Entry, cronlib.Schedule, error) {
	if e.Name == "" {
		return e, nil, errors.New("cron: entry name is required")
	}
	if e.Run == nil {
		return e, nil, fmt.Errorf("cron: entry %s has no body", e.Name)
	}
	sched, err := ParseSchedule(e.Schedule)
	if err != nil {
		return e, nil, fmt.Errorf("cron: entry %s: parse schedule %q: %w", e.Name, e.Schedule, err)
	}
	if e.Lock.Name == "" {
		lock := clusterlock.SoftLock(e.Name)
		if e.Lock.Timeout > 0 {
			lock = lock.WithTimeout(e.Lock.Timeout)
		}
		e.Lock = lock
	}
	return e, sched, nil
}
