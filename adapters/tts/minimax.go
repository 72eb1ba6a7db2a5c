package tts

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pelatih-ai/pelatih/server/domain/repositories"
)

const (
	defaultAPIBaseURL = "https://api.minimax.chat/v1"
	defaultModel      = "speech-01-turbo"
	defaultVoiceID    = "female-chengshu"
	defaultSampleRate = 16000

	// eventPrefix starts every payload line of the streamed response.
	eventPrefix = "data:"
)

// MinimaxConfig holds configuration for the MinimaxTTS adapter.
// Required fields:
// - APIKey: your MiniMax API key
// - GroupID: your MiniMax group id
// Optional fields with defaults:
// - APIBaseURL: base URL for the MiniMax API (default: "https://api.minimax.chat/v1")
// - Model: speech model id (default: "speech-01-turbo")
// - VoiceID: default voice when the caller does not name one
// - SampleRate: output PCM sample rate (default: 16000)
type MinimaxConfig struct {
	APIKey     string
	GroupID    string
	APIBaseURL string
	Model      string
	VoiceID    string
	SampleRate int
}

// MinimaxTTS implements SpeechSynthesizer using the MiniMax streaming
// text-to-speech API. The streamed response is a sequence of event
// lines, each carrying a JSON object with a hex-encoded PCM field.
type MinimaxTTS struct {
	apiKey     string
	groupID    string
	apiBaseURL string
	model      string
	voiceID    string
	sampleRate int
	client     *http.Client
	logger     *zap.Logger
}

// Ensure MinimaxTTS implements the SpeechSynthesizer interface
var _ repositories.SpeechSynthesizer = (*MinimaxTTS)(nil)

type minimaxVoiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Volume  float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type minimaxAudioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type minimaxRequest struct {
	Model        string              `json:"model"`
	Text         string              `json:"text"`
	Stream       bool                `json:"stream"`
	VoiceSetting minimaxVoiceSetting `json:"voice_setting"`
	AudioSetting minimaxAudioSetting `json:"audio_setting"`
}

type minimaxEvent struct {
	Data struct {
		Audio  string `json:"audio"` // hex-encoded PCM
		Status int    `json:"status"`
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// ValidateMinimaxConfig validates the MinimaxConfig
func ValidateMinimaxConfig(config MinimaxConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("minimax API key is required")
	}
	if config.GroupID == "" {
		return fmt.Errorf("minimax group id is required")
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	return nil
}

// NewMinimaxTTS creates a new MiniMax TTS instance
func NewMinimaxTTS(config MinimaxConfig, logger *zap.Logger) (*MinimaxTTS, error) {
	if err := ValidateMinimaxConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", voiceID))
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
		logger.Info("Using default sample rate", zap.Int("sampleRate", sampleRate))
	}

	return &MinimaxTTS{
		apiKey:     config.APIKey,
		groupID:    config.GroupID,
		apiBaseURL: apiBaseURL,
		model:      model,
		voiceID:    voiceID,
		sampleRate: sampleRate,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}, nil
}

// NewMinimaxConfigFromEnv creates a MinimaxConfig from environment variables
func NewMinimaxConfigFromEnv() MinimaxConfig {
	return MinimaxConfig{
		APIKey:     os.Getenv("MINIMAX_API_KEY"),
		GroupID:    os.Getenv("MINIMAX_GROUP_ID"),
		APIBaseURL: os.Getenv("MINIMAX_API_BASE_URL"),
		Model:      os.Getenv("MINIMAX_MODEL"),
		VoiceID:    os.Getenv("MINIMAX_VOICE_ID"),
	}
}

// SynthesizeStream issues a streaming synthesis request and decodes the
// incremental event lines into raw PCM chunks. Events split across
// network reads are reassembled; only complete lines are consumed and a
// trailing partial line is retained for the next read.
func (m *MinimaxTTS) SynthesizeStream(ctx context.Context, text string, voiceID string) (<-chan []byte, <-chan error, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("text cannot be empty")
	}
	if voiceID == "" {
		voiceID = m.voiceID
	}

	request := minimaxRequest{
		Model:  m.model,
		Text:   text,
		Stream: true,
		VoiceSetting: minimaxVoiceSetting{
			VoiceID: voiceID,
			Speed:   1.0,
			Volume:  1.0,
		},
		AudioSetting: minimaxAudioSetting{
			SampleRate: m.sampleRate,
			Format:     "pcm",
			Channel:    1,
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/t2a_v2?GroupId=%s", m.apiBaseURL, m.groupID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)

	audioChan := make(chan []byte, 10)
	errChan := make(chan error, 1)

	go func() {
		defer close(audioChan)

		if err := m.stream(ctx, httpReq, voiceID, audioChan); err != nil {
			errChan <- err
		}
		close(errChan)
	}()

	return audioChan, errChan, nil
}

// stream runs the request and pumps decoded PCM chunks into out.
func (m *MinimaxTTS) stream(ctx context.Context, httpReq *http.Request, voiceID string, out chan<- []byte) error {
	m.logger.Debug("Sending synthesis request to MiniMax",
		zap.String("voiceID", voiceID))

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("minimax returned status %d: %s", resp.StatusCode, string(errorBody))
	}

	var (
		pending    []byte
		buffer     = make([]byte, 4096)
		totalBytes int
	)

	for {
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			pending = append(pending, buffer[:n]...)

			// Consume complete lines; keep the trailing partial for the
			// next read.
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := pending[:idx]
				pending = pending[idx+1:]

				chunk, err := m.decodeEvent(line)
				if err != nil {
					return err
				}
				if len(chunk) == 0 {
					continue
				}
				totalBytes += len(chunk)

				select {
				case out <- chunk:
				case <-ctx.Done():
					m.logger.Warn("Context cancelled while sending audio chunk")
					return ctx.Err()
				}
			}
		}

		if readErr == io.EOF {
			m.logger.Info("Finished streaming synthesis",
				zap.String("voiceID", voiceID),
				zap.Int("totalBytes", totalBytes))
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error reading synthesis stream: %w", readErr)
		}
	}
}

// decodeEvent parses one event line and returns the PCM bytes it
// carries, or nil for keep-alives, terminal summaries, and blank lines.
func (m *MinimaxTTS) decodeEvent(line []byte) ([]byte, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	if bytes.HasPrefix(line, []byte(eventPrefix)) {
		line = bytes.TrimSpace(line[len(eventPrefix):])
	}
	if len(line) == 0 || line[0] != '{' {
		return nil, nil
	}

	var event minimaxEvent
	if err := json.Unmarshal(line, &event); err != nil {
		m.logger.Warn("Skipping undecodable synthesis event", zap.Error(err))
		return nil, nil
	}
	if event.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("minimax error %d: %s", event.BaseResp.StatusCode, event.BaseResp.StatusMsg)
	}
	// The final event repeats the whole utterance; only incremental
	// events carry new audio.
	if event.Data.Status == 2 || event.Data.Audio == "" {
		return nil, nil
	}

	pcm, err := hex.DecodeString(event.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to hex-decode audio payload: %w", err)
	}
	return pcm, nil
}
