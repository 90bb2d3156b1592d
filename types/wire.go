package types

import (
	"encoding/json"
	"fmt"
)

// Wire message labels. Client to relay: REQ, EVENT, CLOSE. Relay to client:
// EVENT, OK, EOSE, NOTICE. Every frame is a JSON array whose first element
// is the label.
const (
	LabelReq    = "REQ"
	LabelEvent  = "EVENT"
	LabelClose  = "CLOSE"
	LabelOK     = "OK"
	LabelEOSE   = "EOSE"
	LabelNotice = "NOTICE"
)

// EncodeReq frames a subscription request: ["REQ", subID, filter...].
func EncodeReq(subID string, filters ...Filter) ([]byte, error) {
	arr := make([]interface{}, 0, 2+len(filters))
	arr = append(arr, LabelReq, subID)
	for _, f := range filters {
		arr = append(arr, f)
	}
	b, err := marshalNoEscape(arr)
	if err != nil {
		return nil, fmt.Errorf("encode REQ: %w", err)
	}
	return b, nil
}

// EncodeEvent frames a publish request: ["EVENT", event].
func EncodeEvent(ev Event) ([]byte, error) {
	b, err := marshalNoEscape([]interface{}{LabelEvent, ev})
	if err != nil {
		return nil, fmt.Errorf("encode EVENT: %w", err)
	}
	return b, nil
}

// EncodeClose frames a subscription teardown: ["CLOSE", subID].
func EncodeClose(subID string) ([]byte, error) {
	b, err := marshalNoEscape([]interface{}{LabelClose, subID})
	if err != nil {
		return nil, fmt.Errorf("encode CLOSE: %w", err)
	}
	return b, nil
}

// EventMsg is an inbound ["EVENT", subID, event] frame.
type EventMsg struct {
	SubID string
	Event Event
}

// OKMsg is an inbound ["OK", eventID, accepted, message] frame, the relay's
// acceptance or rejection of a published event.
type OKMsg struct {
	EventID  string
	Accepted bool
	Message  string
}

// EOSEMsg is an inbound ["EOSE", subID] frame marking the end of the
// relay's stored-event backfill for a subscription.
type EOSEMsg struct {
	SubID string
}

// NoticeMsg is an inbound ["NOTICE", message] frame, a human-readable
// message from the relay.
type NoticeMsg struct {
	Message string
}

// DecodeMessage parses one inbound relay frame. It returns one of EventMsg,
// OKMsg, EOSEMsg or NoticeMsg. Frames with an unknown label or a malformed
// payload yield an error; the connection logs and drops them.
func DecodeMessage(data []byte) (interface{}, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("decode relay frame: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("decode relay frame: empty array")
	}

	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return nil, fmt.Errorf("decode relay frame label: %w", err)
	}

	switch label {
	case LabelEvent:
		if len(arr) != 3 {
			return nil, fmt.Errorf("EVENT frame has %d elements, want 3", len(arr))
		}
		var msg EventMsg
		if err := json.Unmarshal(arr[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("decode EVENT subscription id: %w", err)
		}
		if err := json.Unmarshal(arr[2], &msg.Event); err != nil {
			return nil, fmt.Errorf("decode EVENT payload: %w", err)
		}
		return msg, nil

	case LabelOK:
		if len(arr) < 3 {
			return nil, fmt.Errorf("OK frame has %d elements, want at least 3", len(arr))
		}
		var msg OKMsg
		if err := json.Unmarshal(arr[1], &msg.EventID); err != nil {
			return nil, fmt.Errorf("decode OK event id: %w", err)
		}
		if err := json.Unmarshal(arr[2], &msg.Accepted); err != nil {
			return nil, fmt.Errorf("decode OK verdict: %w", err)
		}
		if len(arr) > 3 {
			if err := json.Unmarshal(arr[3], &msg.Message); err != nil {
				return nil, fmt.Errorf("decode OK message: %w", err)
			}
		}
		return msg, nil

	case LabelEOSE:
		if len(arr) != 2 {
			return nil, fmt.Errorf("EOSE frame has %d elements, want 2", len(arr))
		}
		var msg EOSEMsg
		if err := json.Unmarshal(arr[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("decode EOSE subscription id: %w", err)
		}
		return msg, nil

	case LabelNotice:
		if len(arr) != 2 {
			return nil, fmt.Errorf("NOTICE frame has %d elements, want 2", len(arr))
		}
		var msg NoticeMsg
		if err := json.Unmarshal(arr[1], &msg.Message); err != nil {
			return nil, fmt.Errorf("decode NOTICE message: %w", err)
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("unknown relay frame label %q", label)
	}
}
