package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when abandoning a streaming channel,
// such as a synthesis audio channel after its consumer stops early.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
