package dispatch

import (
	"fmt"

	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/wire"
)

// decodedFrame is the result of parsing one inbound client frame.
type decodedFrame struct {
	envelope wire.Envelope

	// revision is set for PushRevision and UserConnect frames; connecting is
	// modeled as submitting the user's baseline revision.
	revision *document.Revision
}

// decodeClientFrame parses the envelope and, where the kind implies one, its
// revision payload. Checksum verification is applied only when enforce is
// set; the wire codec keeps verification available either way.
func decodeClientFrame(data []byte, userID string, enforce bool) (*decodedFrame, error) {
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	frame := &decodedFrame{envelope: env}

	switch env.Kind {
	case wire.KindAcknowledge, wire.KindPullRevision:
		return frame, nil

	case wire.KindPushRevision:
		payload, err := wire.DecodeRevisionPayload(env.Payload)
		if err != nil {
			return nil, err
		}
		frame.revision = revisionFromPayload(payload, userID)

	case wire.KindUserConnect:
		payload, err := wire.DecodeNewUserPayload(env.Payload)
		if err != nil {
			return nil, err
		}
		if payload.UserID != "" {
			userID = payload.UserID
		}
		frame.revision = revisionFromPayload(payload.Revision, userID)
	}

	if enforce && frame.revision != nil {
		if !wire.VerifyChecksum(frame.revision.Delta, frame.revision.MD5) {
			return nil, fmt.Errorf("%w: document %s", wire.ErrChecksumMismatch, frame.revision.DocumentID)
		}
	}

	return frame, nil
}

func revisionFromPayload(p wire.RevisionPayload, userID string) *document.Revision {
	if p.UserID != "" {
		userID = p.UserID
	}
	return &document.Revision{
		DocumentID:     p.DocumentID,
		RevisionID:     p.RevisionID,
		BaseRevisionID: p.BaseRevisionID,
		Delta:          p.Delta,
		MD5:            p.MD5,
		UserID:         userID,
	}
}
