package realtime

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event names exchanged over the realtime channel.
const (
	EventNotification         = "notification"
	EventMarkNotificationRead = "markNotificationRead"
	EventNotificationRead     = "notificationRead"
	EventError                = "error"
)

var errMissingEventName = errors.New("realtime: event name required")

// Event is a named message pushed to, or received from, a client.
type Event struct {
	Name    string
	Payload any
}

// frame is the JSON envelope written on the wire.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeEvent(event Event) ([]byte, error) {
	name := strings.TrimSpace(event.Name)
	if name == "" {
		return nil, errMissingEventName
	}
	envelope := frame{Event: name}
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return nil, err
		}
		envelope.Data = data
	}
	return json.Marshal(envelope)
}

func decodeFrame(raw []byte) (frame, error) {
	var decoded frame
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return frame{}, err
	}
	decoded.Event = strings.TrimSpace(decoded.Event)
	if decoded.Event == "" {
		return frame{}, errMissingEventName
	}
	return decoded, nil
}

type markReadPayload struct {
	NotificationID string `json:"notificationId"`
}

type markReadAckPayload struct {
	NotificationID string `json:"notificationId,omitempty"`
	Updated        int64  `json:"updated"`
}

type errorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
