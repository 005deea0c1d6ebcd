// Package protocol defines the WebSocket message envelope shared by the
// sensing stream endpoint and the networked microphone capture driver.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → subscriber messages
	TypeSnapshot  MessageType = "snapshot"  // Full per-frame analysis result
	TypeNarration MessageType = "narration" // Spoken summary line
	TypeObstacle  MessageType = "obstacle"  // Obstacle inside warning distance
	TypeStats     MessageType = "stats"     // Pipeline statistics

	// Microphone → capture driver messages
	TypeMic MessageType = "mic" // PCM audio chunk

	// Subscriber → server requests
	TypeGetStats MessageType = "get_stats"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Audio formats accepted in MicData
const (
	FormatPCM16   = "pcm16"
	FormatFloat32 = "f32"
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// MicData carries one chunk of microphone audio
type MicData struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   uint64 `json:"seq,omitempty"`
	Data       string `json:"data"` // base64
}

// NewMicMessage encodes normalized samples as a PCM16 mic message
func NewMicMessage(samples []float64, sampleRate, channels int, seq uint64) (*Message, error) {
	return NewMessage(TypeMic, MicData{
		Format:     FormatPCM16,
		SampleRate: sampleRate,
		Channels:   channels,
		Sequence:   seq,
		Data:       base64.StdEncoding.EncodeToString(sensing.EncodePCM16(samples)),
	})
}

// GetMicData extracts mic data from a message
func (m *Message) GetMicData() (*MicData, error) {
	var data MicData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Samples decodes the audio payload into normalized samples, appending to dst
func (d *MicData) Samples(dst []float64) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(d.Data)
	if err != nil {
		return dst, fmt.Errorf("decode base64: %w", err)
	}

	var decoded []float64
	switch d.Format {
	case FormatPCM16, "":
		decoded = sensing.DecodePCM16(raw, nil)
	case FormatFloat32:
		decoded = sensing.DecodeFloat32(raw, nil)
	default:
		return dst, fmt.Errorf("unsupported audio format %q", d.Format)
	}

	return append(dst, decoded...), nil
}

// NarrationData carries a spoken summary line
type NarrationData struct {
	Sequence uint64 `json:"seq"`
	Text     string `json:"text"`
}

// NewNarrationMessage creates a narration message
func NewNarrationMessage(seq uint64, text string) (*Message, error) {
	return NewMessage(TypeNarration, NarrationData{Sequence: seq, Text: text})
}

// ObstacleData announces the nearest obstacle inside warning distance
type ObstacleData struct {
	Sequence       uint64  `json:"seq"`
	DistanceMeters float64 `json:"distance_meters"`
	Confidence     float64 `json:"confidence"`
}

// NewObstacleMessage creates an obstacle message from a candidate
func NewObstacleMessage(seq uint64, c sensing.ObstacleCandidate) (*Message, error) {
	return NewMessage(TypeObstacle, ObstacleData{
		Sequence:       seq,
		DistanceMeters: c.DistanceMeters,
		Confidence:     c.Confidence,
	})
}

// GetObstacleData extracts obstacle data from a message
func (m *Message) GetObstacleData() (*ObstacleData, error) {
	var data ObstacleData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// NewPong answers a ping
func NewPong() *Message {
	return &Message{Type: TypePong, Timestamp: time.Now().UnixMilli()}
}
