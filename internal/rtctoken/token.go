// Package rtctoken issues the signed, short-lived credentials the browser
// hands to the real-time-communication SDK when joining an avatar room.
//
// Token format: the ASCII version tag "001", the raw app id, then the
// base64 encoding of a fixed little-endian payload followed by its
// HMAC-SHA256 signature keyed with the app key.
package rtctoken

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// Version tag prepended to every token.
const Version = "001"

// Privilege codes carried in a token, each with its own expiry.
const (
	PrivPublishStream      uint16 = 0
	privPublishAudioStream uint16 = 1
	privPublishVideoStream uint16 = 2
	privPublishDataStream  uint16 = 3
	PrivSubscribeStream    uint16 = 4
)

// Token accumulates the fields of one access credential before signing.
// The app key is the signing secret and never appears in the output.
type Token struct {
	appID    string
	appKey   string
	roomID   string
	userID   string
	issuedAt uint32
	nonce    uint32
	privs    map[uint16]uint32
}

// New starts a token for the given room/user pair. Privileges are added
// with AddPrivilege before calling Serialize.
func New(appID, appKey, roomID, userID string) *Token {
	var nonce uint32
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err == nil {
		nonce = binary.LittleEndian.Uint32(buf[:])
	}
	return &Token{
		appID:    appID,
		appKey:   appKey,
		roomID:   roomID,
		userID:   userID,
		issuedAt: uint32(time.Now().Unix()),
		nonce:    nonce,
		privs:    make(map[uint16]uint32),
	}
}

// AddPrivilege grants a privilege until expireAt. Granting the publish
// privilege implicitly grants the audio, video and data sub-privileges
// with the same expiry; subscribe affects only its own key.
func (t *Token) AddPrivilege(priv uint16, expireAt time.Time) {
	expire := uint32(expireAt.Unix())
	t.privs[priv] = expire

	if priv == PrivPublishStream {
		t.privs[privPublishAudioStream] = expire
		t.privs[privPublishVideoStream] = expire
		t.privs[privPublishDataStream] = expire
	}
}

// Serialize packs, signs, and encodes the token. The only failure mode
// is a field too large for its 16-bit length prefix, which fails loudly
// rather than truncating.
func (t *Token) Serialize(expireAt time.Time) (string, error) {
	payload, err := t.pack(uint32(expireAt.Unix()))
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(t.appKey))
	mac.Write(payload)
	signature := mac.Sum(nil)

	signed := make([]byte, 0, len(payload)+len(signature))
	signed = append(signed, payload...)
	signed = append(signed, signature...)

	return Version + t.appID + base64.StdEncoding.EncodeToString(signed), nil
}

// pack writes the deterministic little-endian layout: nonce, issuedAt,
// expireAt, length-prefixed roomID and userID, then the privilege map
// in strictly ascending key order.
func (t *Token) pack(expireAt uint32) ([]byte, error) {
	buf := &bytes.Buffer{}

	binary.Write(buf, binary.LittleEndian, t.nonce)
	binary.Write(buf, binary.LittleEndian, t.issuedAt)
	binary.Write(buf, binary.LittleEndian, expireAt)

	if err := packString(buf, "roomID", t.roomID); err != nil {
		return nil, err
	}
	if err := packString(buf, "userID", t.userID); err != nil {
		return nil, err
	}

	keys := make([]uint16, 0, len(t.privs))
	for k := range t.privs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	binary.Write(buf, binary.LittleEndian, uint16(len(keys)))
	for _, k := range keys {
		binary.Write(buf, binary.LittleEndian, k)
		binary.Write(buf, binary.LittleEndian, t.privs[k])
	}

	return buf.Bytes(), nil
}

func packString(buf *bytes.Buffer, field, value string) error {
	if len(value) > math.MaxUint16 {
		return fmt.Errorf("rtctoken: %s is %d bytes, exceeds 16-bit length prefix", field, len(value))
	}
	binary.Write(buf, binary.LittleEndian, uint16(len(value)))
	buf.WriteString(value)
	return nil
}

// Generate issues the usual room token: publish and subscribe both
// granted until expireAt.
func Generate(appID, appKey, roomID, userID string, expireAt time.Time) (string, error) {
	t := New(appID, appKey, roomID, userID)
	t.AddPrivilege(PrivPublishStream, expireAt)
	t.AddPrivilege(PrivSubscribeStream, expireAt)
	return t.Serialize(expireAt)
}
