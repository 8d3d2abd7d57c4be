package job

import "errors"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNoSource    = errors.New("no source folders given and sorted folder does not exist")
	ErrBusy        = errors.New("too many jobs in progress")
)
