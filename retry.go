package taskqueue

import "time"

// Retry runs RetryFunc up to numTries times, sleeping between
// attempts, and reports the last error. The consumer uses it for
// store writes that can transiently fail while SQLite is busy.
type Retry struct {
	sleepDuration time.Duration
	RetryFunc     func() error
	numTries      int
}

func NewRetry(numTries int, sleepDuration time.Duration, retryFunc func() error) *Retry {
	return &Retry{
		sleepDuration: sleepDuration,
		RetryFunc:     retryFunc,
		numTries:      numTries,
	}
}

func (r *Retry) Do() error {
	var err error
	for i := 0; i < r.numTries; i++ {
		err = r.RetryFunc()
		if err == nil {
			break
		}
		time.Sleep(r.sleepDuration)
	}

	return err
}
