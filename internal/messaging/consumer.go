package messaging

import (
	"context"
	"encoding/json"

	"github.com/bardlex/multipool/internal/algo"
	"github.com/bardlex/multipool/internal/jobmanager"
	"github.com/bardlex/multipool/internal/stratum"
	"github.com/bardlex/multipool/pkg/errors"
)

// ShareProcessor validates submissions.
type ShareProcessor interface {
	ProcessShare(sub jobmanager.Submission) jobmanager.Result
	Algorithm() algo.Descriptor
}

// ShareHandler returns a HandlerFunc that decodes ShareMessages and passes
// them to p. A forwarded mining.submit line is decoded in the layout of
// p's algorithm family. Telemetry reaches downstream consumers through the
// processor's ShareResult event. When responses is set and the message
// names a session, the stratum reply is published to TopicShareResponses
// keyed by that session.
func ShareHandler(p ShareProcessor, responses Publisher) HandlerFunc {
	return func(ctx context.Context, key string, value []byte) error {
		var msg ShareMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "decode_share", "malformed share message").
				WithContext("key", key)
		}

		sub := msg.Submission()
		var requestID any = msg.RequestID
		if len(msg.Request) > 0 {
			req, err := stratum.ParseSubmit(msg.Request, p.Algorithm().Family, msg.ExtraNonce1)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeValidation, "decode_submit", "malformed mining.submit").
					WithContext("key", key)
			}
			req.Apply(&sub)
			requestID = req.ID
		}

		res := p.ProcessShare(sub)
		if responses == nil || msg.Session == "" {
			return nil
		}

		data, err := stratum.MarshalMessage(stratum.ShareResponse(requestID, res))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "encode_share_response", "failed to encode reply")
		}
		return responses.PublishJSON(ctx, TopicShareResponses, msg.Session, data)
	}
}
