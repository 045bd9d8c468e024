package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"chart-gateway/src/helpers"
)

// -----------------------------------------------------------------------------
// Frame codec
//
// Wire format: ~m~<decimal-length>~m~<json-payload>, repeatable within one
// transport message. The declared length counts the payload bytes exactly;
// any mismatch desynchronizes the stream and is fatal for the connection.
// -----------------------------------------------------------------------------

const frameDelimiter = "~m~"

// -----------------------------------------------------------------------------

// Encode serializes a logical message into a single wire frame.
func Encode(msg Message) ([]byte, error) {
	var payload []byte
	var err error

	if msg.IsHandshake() {
		payload, err = json.Marshal(msg.Raw)
	} else {
		params := msg.Params
		if params == nil {
			params = []interface{}{}
		}
		payload, err = json.Marshal(map[string]interface{}{
			"m": msg.Method,
			"p": params,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	frame := fmt.Sprintf("%s%d%s%s", frameDelimiter, len(payload), frameDelimiter, payload)
	return []byte(frame), nil
}

// -----------------------------------------------------------------------------

// Decode parses a raw inbound buffer, which may contain one or more
// concatenated frames, into logical messages in order. Any malformed frame
// (missing delimiter, non-integer length, truncated payload, invalid JSON)
// yields a ProtocolError and no partial result: a desynchronized stream
// cannot be trusted past the first bad frame.
func Decode(buf []byte) ([]Message, error) {
	data := string(buf)
	var messages []Message

	for len(data) > 0 {
		if !strings.HasPrefix(data, frameDelimiter) {
			return nil, helpers.NewProtocolError("frame missing leading delimiter", nil)
		}
		rest := data[len(frameDelimiter):]

		sep := strings.Index(rest, frameDelimiter)
		if sep < 0 {
			return nil, helpers.NewProtocolError("frame missing length delimiter", nil)
		}

		length, err := strconv.Atoi(rest[:sep])
		if err != nil || length < 0 {
			return nil, helpers.NewProtocolError(
				fmt.Sprintf("invalid frame length %q", rest[:sep]), err)
		}

		body := rest[sep+len(frameDelimiter):]
		if len(body) < length {
			return nil, helpers.NewProtocolError(
				fmt.Sprintf("frame payload truncated: declared %d, have %d", length, len(body)), nil)
		}
		payload := body[:length]

		msg, err := parsePayload([]byte(payload))
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)

		data = body[length:]
	}

	return messages, nil
}

// -----------------------------------------------------------------------------

// parsePayload decodes one JSON payload into a call or handshake message.
func parsePayload(payload []byte) (Message, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Message{}, helpers.NewProtocolError("frame payload is not valid JSON", err)
	}

	method, _ := raw["m"].(string)
	if method == "" {
		return Message{Raw: raw}, nil
	}

	params, _ := raw["p"].([]interface{})
	if params == nil {
		params = []interface{}{}
	}
	return Message{Method: method, Params: params, Raw: raw}, nil
}
