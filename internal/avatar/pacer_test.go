package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type sentFrame struct {
	header  Header
	payload []byte
	binary  bool
}

// fakeSender records everything the pacer sends. onBinary, when set, runs
// after each binary send with the count of binary frames so far.
type fakeSender struct {
	mu       sync.Mutex
	frames   []sentFrame
	onBinary func(sent int)
}

func (f *fakeSender) Send(sessionID string, header Header, body interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, sentFrame{header: header})
	return nil
}

func (f *fakeSender) SendBinary(sessionID string, payload []byte) error {
	f.mu.Lock()
	copied := make([]byte, len(payload))
	copy(copied, payload)
	f.frames = append(f.frames, sentFrame{header: HeaderPCMStart, payload: copied, binary: true})
	binaries := 0
	for _, fr := range f.frames {
		if fr.binary {
			binaries++
		}
	}
	hook := f.onBinary
	f.mu.Unlock()
	if hook != nil {
		hook(binaries)
	}
	return nil
}

func (f *fakeSender) sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeSender) binaryFrames() []sentFrame {
	var out []sentFrame
	for _, fr := range f.sent() {
		if fr.binary {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeSender) sentHeader(h Header) bool {
	for _, fr := range f.sent() {
		if !fr.binary && fr.header == h {
			return true
		}
	}
	return false
}

// fakeSynth streams canned PCM chunks, optionally failing at the end.
// beforeClose, when set, runs after the last chunk and before the
// channels close.
type fakeSynth struct {
	chunks      [][]byte
	err         error
	beforeClose func()
}

func (f *fakeSynth) SynthesizeStream(ctx context.Context, text, voiceID string) (<-chan []byte, <-chan error, error) {
	audio := make(chan []byte, len(f.chunks)+1)
	errCh := make(chan error, 1)
	go func() {
		for _, c := range f.chunks {
			select {
			case audio <- c:
			case <-ctx.Done():
				close(errCh)
				close(audio)
				return
			}
		}
		if f.beforeClose != nil {
			f.beforeClose()
		}
		if f.err != nil {
			errCh <- f.err
		}
		close(errCh)
		close(audio)
	}()
	return audio, errCh, nil
}

func newTestPacer(sender *fakeSender, synth *fakeSynth) (*Pacer, *InterruptStore) {
	interrupts := NewInterruptStore()
	p := NewPacer(sender, synth, interrupts, zap.NewNop())
	p.frameInterval = time.Millisecond // keep tests fast
	return p, interrupts
}

func pcm(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i%255 + 1) // never zero, so padding is visible
	}
	return data
}

func TestPacer_FrameCompleteness(t *testing.T) {
	tests := []struct {
		name       string
		totalBytes int
		wantFrames int
		wantPadded int // zero bytes expected at the tail of the last frame
	}{
		{name: "partial final frame padded", totalBytes: 3200, wantFrames: 3, wantPadded: 640},
		{name: "exact multiple unpadded", totalBytes: 2560, wantFrames: 2, wantPadded: 0},
		{name: "single short chunk", totalBytes: 100, wantFrames: 1, wantPadded: 1180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := pcm(tt.totalBytes)
			// Feed in uneven chunks to exercise the rolling buffer.
			var chunks [][]byte
			for rest := source; len(rest) > 0; {
				n := 700
				if n > len(rest) {
					n = len(rest)
				}
				chunks = append(chunks, rest[:n])
				rest = rest[n:]
			}

			sender := &fakeSender{}
			pacer, _ := newTestPacer(sender, &fakeSynth{chunks: chunks})

			if err := pacer.Stream(context.Background(), "s1", "hello", "voice-1"); err != nil {
				t.Fatalf("Stream() error = %v", err)
			}

			frames := sender.binaryFrames()
			if len(frames) != tt.wantFrames {
				t.Fatalf("binary frames = %d, want %d", len(frames), tt.wantFrames)
			}

			var joined []byte
			for _, fr := range frames {
				if len(fr.payload) != FrameBytes {
					t.Errorf("frame size = %d, want %d", len(fr.payload), FrameBytes)
				}
				joined = append(joined, fr.payload...)
			}
			if !bytes.Equal(joined[:tt.totalBytes], source) {
				t.Error("frame bytes do not match source PCM")
			}
			tail := joined[tt.totalBytes:]
			if len(tail) != tt.wantPadded {
				t.Errorf("padding = %d bytes, want %d", len(tail), tt.wantPadded)
			}
			for _, b := range tail {
				if b != 0 {
					t.Error("padding contains non-zero bytes")
					break
				}
			}

			if !sender.sentHeader(HeaderAudioEnd) {
				t.Error("end-of-stream not sent after clean completion")
			}
		})
	}
}

func TestPacer_InterruptAfterFirstFrame(t *testing.T) {
	sender := &fakeSender{}
	synth := &fakeSynth{chunks: [][]byte{pcm(3200)}}
	pacer, interrupts := newTestPacer(sender, synth)

	sender.onBinary = func(sent int) {
		if sent == 1 {
			interrupts.Interrupt("s1")
		}
	}

	if err := pacer.Stream(context.Background(), "s1", "hello", "voice-1"); err != nil {
		t.Fatalf("Stream() error = %v, interrupt must not be one", err)
	}

	if got := len(sender.binaryFrames()); got != 1 {
		t.Errorf("binary frames after interrupt = %d, want 1", got)
	}
	if sender.sentHeader(HeaderAudioEnd) {
		t.Error("end-of-stream sent despite interrupt")
	}
}

func TestPacer_InterruptBeforeAnyFrame(t *testing.T) {
	sender := &fakeSender{}
	pacer, interrupts := newTestPacer(sender, &fakeSynth{chunks: [][]byte{pcm(2560)}})

	// Raised before the stream starts; Stream resets it, so frames flow.
	interrupts.Interrupt("s1")

	if err := pacer.Stream(context.Background(), "s1", "hello", "voice-1"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := len(sender.binaryFrames()); got != 2 {
		t.Errorf("binary frames = %d, want 2: a stale interrupt must not leak into a new stream", got)
	}
}

func TestPacer_InterruptWithOnlyPartialBuffer(t *testing.T) {
	sender := &fakeSender{}
	synth := &fakeSynth{chunks: [][]byte{pcm(600)}}
	pacer, interrupts := newTestPacer(sender, synth)

	// Barge-in lands while less than one frame is buffered; the partial
	// remainder is dropped, not padded.
	synth.beforeClose = func() {
		interrupts.Interrupt("s1")
	}

	if err := pacer.Stream(context.Background(), "s1", "hello", "voice-1"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got := len(sender.binaryFrames()); got != 0 {
		t.Errorf("binary frames = %d, want 0", got)
	}
	if sender.sentHeader(HeaderAudioEnd) {
		t.Error("end-of-stream sent despite interrupt")
	}
}

func TestPacer_SecondStreamRejected(t *testing.T) {
	sender := &fakeSender{}
	synth := &fakeSynth{chunks: [][]byte{pcm(1280)}}
	pacer, _ := newTestPacer(sender, synth)

	started := make(chan struct{})
	release := make(chan struct{})
	synth.beforeClose = func() {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		done <- pacer.Stream(context.Background(), "s1", "hello", "voice-1")
	}()
	<-started

	if !pacer.Busy("s1") {
		t.Error("Busy() = false while a stream is running")
	}
	if err := pacer.Stream(context.Background(), "s1", "again", "voice-1"); !errors.Is(err, ErrStreamActive) {
		t.Errorf("overlapping Stream() error = %v, want ErrStreamActive", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Stream() error = %v", err)
	}

	// The slot frees up once the run ends.
	synth.beforeClose = nil
	if err := pacer.Stream(context.Background(), "s1", "next", "voice-1"); err != nil {
		t.Fatalf("Stream() after completion error = %v", err)
	}
}

func TestPacer_SessionClosedMidStream(t *testing.T) {
	sender := &fakeSender{}
	synth := &fakeSynth{chunks: [][]byte{pcm(12800)}} // ten full frames
	pacer, interrupts := newTestPacer(sender, synth)

	// Teardown while paced delivery is in flight must stop it.
	sender.onBinary = func(sent int) {
		if sent == 2 {
			interrupts.Cleanup("s1")
		}
	}

	if err := pacer.Stream(context.Background(), "s1", "hello", "voice-1"); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if got := len(sender.binaryFrames()); got > 3 {
		t.Errorf("binary frames after teardown = %d, want at most 3", got)
	}
	if sender.sentHeader(HeaderAudioEnd) {
		t.Error("end-of-stream sent for a torn-down session")
	}
	if state := interrupts.State("s1"); state != (InterruptState{}) {
		t.Errorf("flag state after run = %+v, want zero: teardown must not leak entries", state)
	}
}

func TestPacer_UpstreamFailure(t *testing.T) {
	sender := &fakeSender{}
	upstream := fmt.Errorf("provider returned status 500")
	pacer, _ := newTestPacer(sender, &fakeSynth{chunks: [][]byte{pcm(1280)}, err: upstream})

	err := pacer.Stream(context.Background(), "s1", "hello", "voice-1")
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Stream() error = %v, want *SynthesisError", err)
	}
	if synthErr.SessionID != "s1" {
		t.Errorf("error session id = %q, want %q", synthErr.SessionID, "s1")
	}
	if !errors.Is(err, upstream) {
		t.Error("upstream cause not preserved in error chain")
	}
	if !sender.sentHeader(HeaderAudioEnd) {
		t.Error("best-effort end-of-stream missing after upstream failure")
	}
}

func TestPacer_AnnouncesPCMStart(t *testing.T) {
	sender := &fakeSender{}
	pacer, _ := newTestPacer(sender, &fakeSynth{chunks: [][]byte{pcm(1280)}})

	if err := pacer.Stream(context.Background(), "s1", "hello", ""); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	frames := sender.sent()
	if len(frames) == 0 || frames[0].binary || frames[0].header != HeaderPCMStart {
		t.Error("stream did not open with a PCM-start announcement")
	}
	last := frames[len(frames)-1]
	if last.binary || last.header != HeaderAudioEnd {
		t.Error("end-of-stream is not the final message of the run")
	}
}
