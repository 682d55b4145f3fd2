package websocket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type MessageType int

const (
	Update MessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// Titles of the messages exchanged with activity clients.
const (
	TitleConnectionEstablished = "CONNECTION_ESTABLISHED"
	TitleCommandFailure        = "COMMAND_FAILURE"

	TitleIngestUpdate  = "INGEST_UPDATE"
	TitleTrackUpdate   = "TRACK_UPDATE"
	TitleIngestCreated = "INGEST_CREATED"

	CommandIngestSubmit = "INGEST_SUBMIT"
)

var ErrInvalidArgument = errors.New("invalid command argument")

// SocketMessage is a message sent over an activity socket. Updates are
// broadcast to every client; commands are sent by a client, and the reply
// carries the command's Id so the client can pair them. Origin and Target
// identify the client a command came from, or a reply is destined for.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   MessageType            `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// NewUpdate returns a broadcast update carrying the payload under the
// 'arguments' key.
func NewUpdate(title string, payload any) *SocketMessage {
	return &SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": payload},
		Type:  Update,
	}
}

// StringArgument returns the non-blank string argument for the key.
func (message *SocketMessage) StringArgument(key string) (string, error) {
	v, ok := message.Body[key]
	if !ok {
		return "", fmt.Errorf("%w: '%s' is missing", ErrInvalidArgument, key)
	}

	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: '%s' must be a non-empty string, got %#v", ErrInvalidArgument, key, v)
	}

	return s, nil
}

// OptionalStringArgument returns the string argument for the key, or an
// empty string if the client did not provide one.
func (message *SocketMessage) OptionalStringArgument(key string) (string, error) {
	v, ok := message.Body[key]
	if !ok || v == nil {
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: '%s' must be a string, got %#v", ErrInvalidArgument, key, v)
	}

	return s, nil
}

// BoolArgument returns the boolean argument for the key, defaulting to false.
func (message *SocketMessage) BoolArgument(key string) (bool, error) {
	v, ok := message.Body[key]
	if !ok || v == nil {
		return false, nil
	}

	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: '%s' must be a boolean, got %#v", ErrInvalidArgument, key, v)
	}

	return b, nil
}

// Reply returns a response to this command, addressed to the client which
// sent it. The command's own arguments are echoed back under 'command'.
func (message *SocketMessage) Reply(title string, body map[string]interface{}) *SocketMessage {
	if body == nil {
		body = make(map[string]interface{})
	}
	body["command"] = message.Body

	return &SocketMessage{
		Title:  title,
		Body:   body,
		Type:   Response,
		Id:     message.Id,
		Target: message.Origin,
	}
}

// Failure returns the error response for this command.
func (message *SocketMessage) Failure(err error) *SocketMessage {
	return &SocketMessage{
		Title:  TitleCommandFailure,
		Body:   map[string]interface{}{"command": message, "error": err.Error()},
		Type:   ErrorResponse,
		Id:     message.Id,
		Target: message.Origin,
	}
}
