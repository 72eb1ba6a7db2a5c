package avatar

import (
	"bytes"
	"testing"
)

func TestHeaderWidths(t *testing.T) {
	headers := []Header{
		HeaderInitialize,
		HeaderTerminate,
		HeaderInterrupt,
		HeaderAudioEnd,
		HeaderSSMLData,
		HeaderPCMStart,
		HeaderConfirmation,
		HeaderException,
		HeaderHeartbeat,
		HeaderStatus,
	}

	for _, h := range headers {
		if len(h) != HeaderLen {
			t.Errorf("header %q is %d bytes, want %d", h, len(h), HeaderLen)
		}
		if !h.Known() {
			t.Errorf("header %q not in known set", h)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		header  Header
		body    interface{}
		want    string
		wantErr bool
	}{
		{
			name:   "header only",
			header: HeaderInterrupt,
			body:   nil,
			want:   "INTRRUPT",
		},
		{
			name:   "header with body",
			header: HeaderInitialize,
			body:   map[string]string{"liveId": "live-1"},
			want:   `SESSTART{"liveId":"live-1"}`,
		},
		{
			name:    "wrong header width",
			header:  Header("SHORT"),
			body:    nil,
			wantErr: true,
		},
		{
			name:    "unencodable body",
			header:  HeaderInitialize,
			body:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.header, tt.body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && string(got) != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeBinary(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	frame, err := EncodeBinary(HeaderPCMStart, payload)
	if err != nil {
		t.Fatalf("EncodeBinary() error = %v", err)
	}
	if string(frame[:HeaderLen]) != string(HeaderPCMStart) {
		t.Errorf("frame header = %q, want %q", frame[:HeaderLen], HeaderPCMStart)
	}
	if !bytes.Equal(frame[HeaderLen:], payload) {
		t.Errorf("frame payload = %v, want %v", frame[HeaderLen:], payload)
	}

	if _, err := EncodeBinary(Header("TOOLONGHEADER"), payload); err == nil {
		t.Error("EncodeBinary() accepted a malformed header")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantHeader Header
		wantBody   bool
		wantRaw    string
		wantErr    bool
	}{
		{
			name:       "confirmation with JSON body",
			raw:        `SESSCONF{"code":0}`,
			wantHeader: HeaderConfirmation,
			wantBody:   true,
		},
		{
			name:       "header only",
			raw:        "KEEPLIVE",
			wantHeader: HeaderHeartbeat,
		},
		{
			name:       "malformed body kept raw",
			raw:        "ABNORMALrender pipeline stalled",
			wantHeader: HeaderException,
			wantRaw:    "render pipeline stalled",
		},
		{
			name:       "unknown header survives decode",
			raw:        `XXFUTURE{"v":2}`,
			wantHeader: Header("XXFUTURE"),
			wantBody:   true,
		},
		{
			name:    "too short",
			raw:     "SESS",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if msg.Header != tt.wantHeader {
				t.Errorf("header = %q, want %q", msg.Header, tt.wantHeader)
			}
			if (msg.Body != nil) != tt.wantBody {
				t.Errorf("body parsed = %v, want %v", msg.Body != nil, tt.wantBody)
			}
			if msg.Raw != tt.wantRaw {
				t.Errorf("raw = %q, want %q", msg.Raw, tt.wantRaw)
			}
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(HeaderStatus, map[string]string{"status": StatusVoiceStart})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Header != HeaderStatus {
		t.Errorf("header = %q, want %q", msg.Header, HeaderStatus)
	}
	if got := msg.Body["status"]; got != StatusVoiceStart {
		t.Errorf("status = %v, want %q", got, StatusVoiceStart)
	}
}
