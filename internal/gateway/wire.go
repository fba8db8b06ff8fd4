package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RemoteMessage is one entry of a history response.
type RemoteMessage struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
	ReplyTo   int64  `json:"reply_to,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
}

// Post is the payload of an outbound chat message.
type Post struct {
	Author   string `json:"author"`
	Text     string `json:"text"`
	ReplyTo  int64  `json:"reply_to,omitempty"`
	ClientID string `json:"client_id"`
}

// Ack is the server confirmation of a Post.
type Ack struct {
	ID        int64 `json:"id"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// DecodeHistory parses a history response. The server lists newest first.
// An empty body is an empty batch.
func DecodeHistory(body string) ([]RemoteMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	var msgs []RemoteMessage
	if err := json.Unmarshal([]byte(body), &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return msgs, nil
}

// EncodePost builds the command string for an outbound message.
func EncodePost(sendCommand string, p Post) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode post: %w", err)
	}
	return sendCommand + " " + string(data), nil
}

// DecodeAck parses a send response. ok is false when the body is not a JSON
// acknowledgement; the send still succeeded but carries no server id.
func DecodeAck(body string) (ack Ack, ok bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "{") {
		return Ack{}, false
	}
	if err := json.Unmarshal([]byte(body), &ack); err != nil {
		return Ack{}, false
	}
	return ack, true
}
