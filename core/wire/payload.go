package wire

import (
	"encoding/json"
	"fmt"
)

// RevisionPayload is the payload of a KindPushRevision envelope, and of
// outbound pushes to other subscribers.
type RevisionPayload struct {
	DocumentID     string `json:"document_id"`
	RevisionID     int64  `json:"revision_id"`
	BaseRevisionID int64  `json:"base_revision_id"`
	Delta          []byte `json:"delta"`
	MD5            string `json:"md5"`
	UserID         string `json:"user_id,omitempty"`
}

// NewUserPayload is the payload of a KindUserConnect envelope. Connecting is
// modeled as submitting the user's baseline revision.
type NewUserPayload struct {
	UserID   string          `json:"user_id"`
	Revision RevisionPayload `json:"revision"`
}

// AckPayload is the payload of a server-sent KindAcknowledge envelope.
type AckPayload struct {
	DocumentID string `json:"document_id"`
	RevisionID int64  `json:"revision_id"`
}

// PullPayload is the payload of a server-sent KindPullRevision envelope,
// directing a client that has fallen behind to fetch the missing range.
type PullPayload struct {
	DocumentID     string `json:"document_id"`
	FromRevisionID int64  `json:"from_revision_id"`
	ToRevisionID   int64  `json:"to_revision_id"`
}

// DecodeRevisionPayload parses a RevisionPayload from envelope payload bytes.
func DecodeRevisionPayload(data []byte) (RevisionPayload, error) {
	var p RevisionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return RevisionPayload{}, fmt.Errorf("%w: revision: %v", ErrMalformedPayload, err)
	}
	if p.DocumentID == "" {
		return RevisionPayload{}, fmt.Errorf("%w: revision without document id", ErrMalformedPayload)
	}
	return p, nil
}

// DecodeNewUserPayload parses a NewUserPayload from envelope payload bytes.
func DecodeNewUserPayload(data []byte) (NewUserPayload, error) {
	var p NewUserPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return NewUserPayload{}, fmt.Errorf("%w: new user: %v", ErrMalformedPayload, err)
	}
	if p.Revision.DocumentID == "" {
		return NewUserPayload{}, fmt.Errorf("%w: new user without embedded revision", ErrMalformedPayload)
	}
	return p, nil
}

// EncodePayload serializes any outbound payload for embedding in an envelope.
func EncodePayload(p any) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}
