package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// =============================================================================
// Wire Envelope
// =============================================================================
//
// Every message on the socket is framed as a binary envelope:
//
//	byte    version
//	byte    kind
//	uint64  frame id
//	uint16  document id length, followed by that many bytes
//	uint32  payload length, followed by that many bytes
//
// All integers are big-endian. The payload schema is selected by kind; payload
// bytes are opaque at this layer and decoded by the payload helpers.

const (
	// EnvelopeVersion is the only envelope version this codec understands.
	EnvelopeVersion = 1

	envelopeHeaderLen = 1 + 1 + 8 + 2 // version + kind + frame id + doc id length

	maxDocumentIDLen = 1 << 10
	maxPayloadLen    = 1 << 22
)

var (
	// ErrMalformedEnvelope indicates the byte sequence does not parse as an
	// envelope.
	ErrMalformedEnvelope = errors.New("malformed wire envelope")

	// ErrMalformedPayload indicates the payload bytes do not match the shape
	// implied by the envelope kind.
	ErrMalformedPayload = errors.New("malformed wire payload")
)

// FrameKind selects the payload schema of an envelope.
type FrameKind uint8

const (
	// KindAcknowledge confirms receipt of a previously delivered revision.
	KindAcknowledge FrameKind = 0

	// KindPushRevision carries a client-authored revision.
	KindPushRevision FrameKind = 1

	// KindPullRevision asks the peer to send revisions the sender is missing.
	KindPullRevision FrameKind = 2

	// KindUserConnect announces a newly connected user with a baseline
	// revision for the document.
	KindUserConnect FrameKind = 3
)

func (k FrameKind) valid() bool {
	return k <= KindUserConnect
}

// String returns the kind name.
func (k FrameKind) String() string {
	switch k {
	case KindAcknowledge:
		return "acknowledge"
	case KindPushRevision:
		return "push_revision"
	case KindPullRevision:
		return "pull_revision"
	case KindUserConnect:
		return "user_connect"
	default:
		return "unknown"
	}
}

// Envelope is one framed client or server message.
type Envelope struct {
	DocumentID string
	FrameID    uint64
	Kind       FrameKind
	Payload    []byte
}

// EncodeEnvelope serializes an envelope to its binary form.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if !env.Kind.valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedEnvelope, env.Kind)
	}
	if len(env.DocumentID) > maxDocumentIDLen {
		return nil, fmt.Errorf("%w: document id of %d bytes", ErrMalformedEnvelope, len(env.DocumentID))
	}
	if len(env.Payload) > maxPayloadLen {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrMalformedEnvelope, len(env.Payload))
	}

	buf := make([]byte, 0, envelopeHeaderLen+len(env.DocumentID)+4+len(env.Payload))
	buf = append(buf, EnvelopeVersion, byte(env.Kind))
	buf = binary.BigEndian.AppendUint64(buf, env.FrameID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(env.DocumentID)))
	buf = append(buf, env.DocumentID...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(env.Payload)))
	buf = append(buf, env.Payload...)
	return buf, nil
}

// DecodeEnvelope parses the binary form of an envelope. Unknown kinds,
// truncated buffers and trailing garbage are all protocol errors.
func DecodeEnvelope(data []byte) (Envelope, error) {
	if len(data) < envelopeHeaderLen {
		return Envelope{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedEnvelope, len(data))
	}
	if data[0] != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, data[0])
	}
	kind := FrameKind(data[1])
	if !kind.valid() {
		return Envelope{}, fmt.Errorf("%w: unknown kind %d", ErrMalformedEnvelope, data[1])
	}

	frameID := binary.BigEndian.Uint64(data[2:10])
	docLen := int(binary.BigEndian.Uint16(data[10:12]))
	rest := data[envelopeHeaderLen:]
	if docLen > maxDocumentIDLen || len(rest) < docLen+4 {
		return Envelope{}, fmt.Errorf("%w: document id overruns buffer", ErrMalformedEnvelope)
	}
	docID := string(rest[:docLen])
	rest = rest[docLen:]

	payloadLen := int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if payloadLen > maxPayloadLen || len(rest) < payloadLen {
		return Envelope{}, fmt.Errorf("%w: payload overruns buffer", ErrMalformedEnvelope)
	}
	if len(rest) != payloadLen {
		return Envelope{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedEnvelope, len(rest)-payloadLen)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		copy(payload, rest)
	}
	return Envelope{
		DocumentID: docID,
		FrameID:    frameID,
		Kind:       kind,
		Payload:    payload,
	}, nil
}
