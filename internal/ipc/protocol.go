// Package ipc provides inter-process communication between the shieldd
// daemon and control clients (shieldctl, enforcement hooks).
//
// The protocol is a length-prefixed request/response framing over a unix
// domain socket: a fixed 16-byte header (magic, version, type, request
// id, payload length) followed by a JSON payload.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol constants for compatibility checking.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x53495043 // "SIPC" - Shieldd IPC
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing     MessageType = 0x0001
	MsgPong     MessageType = 0x0002
	MsgError    MessageType = 0x0003
	MsgShutdown MessageType = 0x0004
	MsgReload   MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Session operations (0x02xx)
	MsgActivate                MessageType = 0x0200
	MsgActivateResp            MessageType = 0x0201
	MsgRecordAttempt           MessageType = 0x0202
	MsgRecordAttemptResp       MessageType = 0x0203
	MsgRequestDeactivation     MessageType = 0x0204
	MsgRequestDeactivationResp MessageType = 0x0205
	MsgAnswerChallenge         MessageType = 0x0206
	MsgAnswerChallengeResp     MessageType = 0x0207
	MsgEmergencyOverride       MessageType = 0x0208
	MsgEmergencyOverrideResp   MessageType = 0x0209
	MsgManualStop              MessageType = 0x020a
	MsgManualStopResp          MessageType = 0x020b
	MsgIsBlocked               MessageType = 0x020c
	MsgIsBlockedResp           MessageType = 0x020d
	MsgGetHistory              MessageType = 0x020e
	MsgGetHistoryResp          MessageType = 0x020f

	// Policy operations (0x03xx)
	MsgGetPolicy     MessageType = 0x0300
	MsgGetPolicyResp MessageType = 0x0301
	MsgSetPolicy     MessageType = 0x0302
	MsgSetPolicyResp MessageType = 0x0303

	// Schedule operations (0x04xx)
	MsgListSchedules     MessageType = 0x0400
	MsgListSchedulesResp MessageType = 0x0401
	MsgSetSchedules      MessageType = 0x0402
	MsgSetSchedulesResp  MessageType = 0x0403
)

// Header is the fixed-size message header (16 bytes).
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

// HeaderSize is the size of the header in bytes.
const HeaderSize = 16

// MaxPayloadSize bounds a single message payload.
const MaxPayloadSize = 4 << 20

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	if h.Length > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
	}
	return h, nil
}

// Write writes the message to a writer.
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads a complete message from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return m, nil
}

// Marshal encodes a payload struct into a message.
func Marshal(msgType MessageType, requestID uint32, payload any) (*Message, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}
	return NewMessage(msgType, requestID, data), nil
}

// Unmarshal decodes a message payload into out.
func (m *Message) Unmarshal(out any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, out)
}

// Payload types.

// ErrorPayload carries a daemon-side failure back to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusPayload describes the daemon's current state.
type StatusPayload struct {
	Active           bool       `json:"active"`
	SessionID        string     `json:"sessionId,omitempty"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	ScheduledEndTime *time.Time `json:"scheduledEndTime,omitempty"`
	ActivationType   string     `json:"activationType,omitempty"`
	RemainingSeconds *int64     `json:"remainingSeconds,omitempty"`
	AttemptCount     int        `json:"attemptCount"`
	PendingWrites    int        `json:"pendingWrites"`
	NextTrigger      *time.Time `json:"nextTrigger,omitempty"`
}

// ActivatePayload requests session activation.
type ActivatePayload struct {
	// DurationSeconds of 0 means: use the policy default when set,
	// otherwise start a manual-stop-only session.
	DurationSeconds int64  `json:"durationSeconds"`
	ActivationType  string `json:"activationType"`
}

// RecordAttemptPayload reports an access attempt outcome for auditing.
type RecordAttemptPayload struct {
	AttemptType      string `json:"attemptType"`
	TargetName       string `json:"targetName"`
	TargetIdentifier string `json:"targetIdentifier"`
	Outcome          string `json:"outcome"`
}

// ChallengePayload carries an issued sobriety challenge.
type ChallengePayload struct {
	ChallengeType string `json:"challengeType"`
	Difficulty    string `json:"difficulty"`
	Prompt        string `json:"prompt"`
}

// AnswerPayload carries a challenge answer.
type AnswerPayload struct {
	Answer string `json:"answer"`
}

// AnswerResultPayload reports the outcome of an answer: the session
// ended, or a fresh challenge to try, or the flow halted.
type AnswerResultPayload struct {
	Passed    bool              `json:"passed"`
	Exhausted bool              `json:"exhausted"`
	Next      *ChallengePayload `json:"next,omitempty"`
}

// IsBlockedPayload queries the access decision engine.
type IsBlockedPayload struct {
	TargetKind string `json:"targetKind"`
	TargetID   string `json:"targetId"`
}

// IsBlockedResultPayload carries the decision.
type IsBlockedResultPayload struct {
	Blocked bool `json:"blocked"`
}
