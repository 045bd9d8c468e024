package protocol

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
)

// -----------------------------------------------------------------------------
// Logical message model
// -----------------------------------------------------------------------------

// Message is one logical unit of the wire protocol. A call carries a method
// name and positional params; a handshake (server-issued session metadata)
// has no method and is kept verbatim in Raw.
type Message struct {
	Method string
	Params []interface{}
	Raw    map[string]interface{}
}

// -----------------------------------------------------------------------------

// IsHandshake reports whether the message is server session metadata
// rather than a method call.
func (m *Message) IsHandshake() bool {
	return m.Method == ""
}

// -----------------------------------------------------------------------------

// HandshakeSessionID returns the server session id of a handshake message,
// or "" for calls.
func (m *Message) HandshakeSessionID() string {
	if m.Raw == nil {
		return ""
	}
	id, _ := m.Raw["session_id"].(string)
	return id
}

// -----------------------------------------------------------------------------

// NewCall builds a call message from a method name and ordered params.
func NewCall(method string, params ...interface{}) Message {
	if params == nil {
		params = []interface{}{}
	}
	return Message{Method: method, Params: params}
}

// -----------------------------------------------------------------------------

// SymbolSpec builds the "="-prefixed symbol descriptor passed to
// resolve_symbol. When feature is non-empty it is advertised so the server
// prepares the session for the derived-indicator study.
func SymbolSpec(symbol string, feature string) string {
	spec := map[string]interface{}{
		"adjustment": "splits",
		"symbol":     symbol,
	}
	if feature != "" {
		spec["session-features"] = []string{feature}
	}
	// Marshal of plain maps/strings cannot fail.
	data, _ := json.Marshal(spec)
	return "=" + string(data)
}

// -----------------------------------------------------------------------------

const sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const sessionIDLength = 12

// GenerateSessionID returns a random logical session identifier with the
// given prefix. The server multiplexes responses by this id, so uniqueness
// per connection is a correctness requirement; ids draw from crypto/rand.
func GenerateSessionID(prefix string) string {
	buf := make([]byte, sessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; panic beats
		// silently risking a colliding id.
		panic(fmt.Sprintf("session id entropy unavailable: %v", err))
	}
	for i, b := range buf {
		buf[i] = sessionIDAlphabet[int(b)%len(sessionIDAlphabet)]
	}
	return prefix + "_" + string(buf)
}
