package retry

import "time"

// Do runs fn up to attempts times, sleeping delay before each attempt after
// the first. It returns nil as soon as fn succeeds, otherwise the error from
// the last attempt.
func Do(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(delay)
		}
		err = fn()
		if err == nil {
			return nil
		}
	}
	return err
}
