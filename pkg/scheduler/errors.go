package scheduler

import "errors"

var (
	ErrJobAlreadyRegistered = errors.New("job already registered")
	ErrInvalidJob           = errors.New("job requires a name, schedule and function")
	ErrNoJobs               = errors.New("scheduler has no jobs")
)
