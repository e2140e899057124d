package jobs

import "errors"

// ErrNotFound indicates the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// ErrNoStageData indicates a stage has not recorded output data yet.
var ErrNoStageData = errors.New("stage data not recorded")

// ErrTerminal indicates an operation is invalid because the job already
// reached a terminal status.
var ErrTerminal = errors.New("job is terminal")
