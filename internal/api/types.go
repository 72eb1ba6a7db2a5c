package api

import "time"

// TraineeLoginRequest represents the request payload for trainee login
type TraineeLoginRequest struct {
	TraineeID string `json:"trainee_id" validate:"required"`
}

// TraineeLoginResponse represents the response payload for trainee login
type TraineeLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TraineeID string    `json:"trainee_id"`
}

// CreateSessionRequest starts an avatar rendering session.
type CreateSessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	LiveID    string `json:"live_id" validate:"required"`
	Role      string `json:"role" validate:"required"`
	InputMode string `json:"input_mode"`
	RoomID    string `json:"room_id" validate:"required"`
	Bitrate   int    `json:"bitrate"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// CreateSessionResponse confirms an established avatar session.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// SpeakRequest asks the avatar to speak synthesized text.
type SpeakRequest struct {
	Text    string `json:"text" validate:"required"`
	VoiceID string `json:"voice_id"`
}

// RTCTokenResponse carries a signed room access token for the browser SDK.
type RTCTokenResponse struct {
	Token     string    `json:"token"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
