package repositories

import "context"

// SpeechSynthesizer abstracts a hosted text-to-speech service that streams
// raw PCM audio incrementally.
type SpeechSynthesizer interface {
	// SynthesizeStream starts a streaming synthesis request. Chunks of raw
	// PCM arrive on the audio channel until it closes. If synthesis fails
	// mid-stream, the failure is delivered on the error channel after the
	// audio channel closes. The initial error return covers request
	// construction only.
	SynthesizeStream(ctx context.Context, text string, voiceID string) (<-chan []byte, <-chan error, error)
}
