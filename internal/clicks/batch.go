package clicks

import "time"

// collect hands flush batches of up to size items, or whatever is pending
// when the interval elapses. The remainder is flushed once in is closed.
func collect[T any](in <-chan T, size int, every time.Duration, flush func([]T)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	pending := make([]T, 0, size)
	for {
		select {
		case item, ok := <-in:
			if !ok {
				if len(pending) > 0 {
					flush(pending)
				}
				return
			}
			pending = append(pending, item)
			if len(pending) >= size {
				flush(pending)
				pending = make([]T, 0, size)
				ticker.Reset(every)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				flush(pending)
				pending = make([]T, 0, size)
			}
		}
	}
}
