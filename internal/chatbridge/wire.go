// Package chatbridge drives a chat-bridge subprocess per configured Chat
// Tool: it speaks the bridge's NDJSON command/event protocol, keeps the
// connection alive with a ping/pong liveness check, restarts on fatal
// errors, and pipes inbound messages through the workspace's Control Hub.
package chatbridge

import "encoding/json"

// Event is one NDJSON line emitted by the bridge on stdout.
type Event struct {
	Type string `json:"type"`

	// status
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	// qrcode
	QRCode string `json:"qrcode,omitempty"`

	// message
	MessageID   string `json:"message_id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// contacts
	Contacts []ContactEntry `json:"contacts,omitempty"`

	// error
	Error json.RawMessage `json:"error,omitempty"`

	// pong
	TS int64 `json:"ts,omitempty"`
}

// ContactEntry is one entry of a "contacts" event.
type ContactEntry struct {
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}

// ErrorText renders an error event's payload as a string regardless of
// whether the bridge sent it as a bare string or a nested object.
func (e *Event) ErrorText() string {
	if len(e.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.Error, &s); err == nil {
		return s
	}
	return string(e.Error)
}

// Command is one NDJSON line sent to the bridge on stdin.
type Command struct {
	Type string `json:"type"`

	// send_message
	RecipientID string `json:"recipient_id,omitempty"`
	Content     string `json:"content,omitempty"`

	// ping
	TS int64 `json:"ts,omitempty"`
}
