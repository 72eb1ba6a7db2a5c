package avatar

// Audio format expected by the rendering service. The frame size is fixed
// by the other two: FrameBytes = SampleRate * BytesPerSample * 40ms.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	FrameMillis    = 40
	FrameBytes     = SampleRate * BytesPerSample * FrameMillis / 1000 // 1280
)

// AuthParams carries the credentials sent in the initialize message.
type AuthParams struct {
	AppID string `json:"appId"`
	Token string `json:"token"`
}

// RoleParams describes the digital human to render.
type RoleParams struct {
	Type      string `json:"type"`
	InputMode string `json:"inputMode"`
	Role      string `json:"role"`
	Bitrate   int    `json:"bitrate,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// TransportParams describes where the rendered stream should be published.
// Room/App/User/Token are interpreted by the transport named in Type.
type TransportParams struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	AppID  string `json:"appId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`
}

// InitParams is the JSON body of the initialize control message.
type InitParams struct {
	LiveID    string          `json:"liveId"`
	Auth      AuthParams      `json:"auth"`
	Avatar    RoleParams      `json:"avatar"`
	Transport TransportParams `json:"transport"`
}

// StatusEvent is emitted to subscribers when the rendering service reports
// a change in avatar speaking state (voice-start / voice-end).
type StatusEvent struct {
	SessionID string
	Status    string
}

const (
	StatusVoiceStart = "voice_start"
	StatusVoiceEnd   = "voice_end"
)
