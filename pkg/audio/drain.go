package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when you don't need the data from a
// streaming channel (e.g., the Frames channel of an abandoned [Source]).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Collect reads frames until the channel is closed and concatenates their
// PCM payloads. The returned format is taken from the first frame; callers
// feeding Collect from a normalized source get a uniform stream.
func Collect(ch <-chan Frame) ([]byte, Format) {
	var (
		pcm    []byte
		format Format
	)
	for f := range ch {
		if format == (Format{}) {
			format = Format{SampleRate: f.SampleRate, Channels: f.Channels}
		}
		pcm = append(pcm, f.Data...)
	}
	return pcm, format
}
