package wire

import (
	"encoding/json"
	"fmt"
)

// Marshal builds the bytes for one outbound frame. msgID may be empty for
// fire-and-forget messages such as heartbeats.
func Marshal(payloadType int32, msgID string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload %d: %w", payloadType, err)
		}
		raw = data
	}

	return json.Marshal(Frame{
		ClientMsgID: msgID,
		PayloadType: payloadType,
		Payload:     raw,
	})
}

// Parse decodes the envelope of one inbound frame. The payload stays raw
// until the receiver knows the concrete type.
func Parse(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	if f.PayloadType == 0 {
		return Frame{}, fmt.Errorf("frame missing payloadType")
	}
	return f, nil
}

// Decode unmarshals the frame payload into the given struct.
func (f Frame) Decode(into any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("frame %d has no payload", f.PayloadType)
	}
	if err := json.Unmarshal(f.Payload, into); err != nil {
		return fmt.Errorf("decode payload %d: %w", f.PayloadType, err)
	}
	return nil
}
