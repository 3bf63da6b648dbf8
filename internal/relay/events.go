// Package relay routes chat messages and files between sessions and keeps
// every client informed about who is online.
package relay

import (
	"encoding/json"
	"fmt"
)

// Client to server events.
const (
	EventSetNickname = "set_nickname"
	EventRegister    = "register"
	EventLogin       = "login"
	EventGetUsers    = "get_users"
	EventSendMessage = "send_message"
	EventSendFile    = "send_file"
)

// Server to client events.
const (
	EventUserConnected       = "user_connected"
	EventUserDisconnected    = "user_disconnected"
	EventUserList            = "user_list"
	EventReceiveMessage      = "receive_message"
	EventReceiveFile         = "receive_file"
	EventRegistrationSuccess = "registration_success"
	EventRegistrationError   = "registration_error"
	EventLoginSuccess        = "login_success"
	EventLoginError          = "login_error"
	EventError               = "error"
)

// Envelope is the frame exchanged in both directions: an event name and its
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Credentials is the payload of register and login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SendMessageRequest is the payload of send_message.
type SendMessageRequest struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// SendFileRequest is the payload of send_file. FileData is standard base64.
type SendFileRequest struct {
	Recipient string `json:"recipient"`
	FileName  string `json:"file_name"`
	FileData  string `json:"file_data"`
}

// ReceivedMessage is the payload of receive_message.
type ReceivedMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// ReceivedFile is the payload of receive_file.
type ReceivedFile struct {
	Sender   string `json:"sender"`
	FileName string `json:"file_name"`
	FileData string `json:"file_data"`
}

// Notice carries the human readable text of registration and login replies.
type Notice struct {
	Message string `json:"message"`
}

// LoginSucceeded is the payload of login_success.
type LoginSucceeded struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// ErrorNotice is the payload of the error event.
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorNotice.
const (
	CodeBadRequest        = "bad_request"
	CodeRateLimited       = "rate_limited"
	CodeInvalidNickname   = "invalid_nickname"
	CodeNicknameTaken     = "nickname_taken"
	CodeAuthRequired      = "auth_required"
	CodeRecipientNotFound = "recipient_not_found"
	CodeMalformedFile     = "malformed_file"
	CodeFileTooLarge      = "file_too_large"
	CodeFileTimeout       = "file_timeout"
	CodeInternal          = "internal_error"
)

// Encode marshals an event into a wire frame.
func Encode(event string, data any) ([]byte, error) {
	env := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("relay: encode %s: %w", event, err)
	}
	return payload, nil
}

// Decode parses a wire frame into its envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("relay: decode frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("relay: decode frame: missing event name")
	}
	return env, nil
}
