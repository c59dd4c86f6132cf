package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a producer must be allowed to
// finish but its output is no longer needed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
