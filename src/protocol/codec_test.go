package protocol

import (
	"fmt"
	"strings"
	"testing"

	"chart-gateway/src/helpers"
)

func TestCodec_RoundTrip(t *testing.T) {
	original := NewCall("resolve_symbol", "cs_abc123def456", "sds_sym_1", "=BINANCE:BTCUSDT")

	frame, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	messages, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("Decode() returned %d messages, want 1", len(messages))
	}

	got := messages[0]
	if got.Method != original.Method {
		t.Errorf("Method = %q, want %q", got.Method, original.Method)
	}
	if len(got.Params) != len(original.Params) {
		t.Fatalf("Params length = %d, want %d", len(got.Params), len(original.Params))
	}
	for i := range original.Params {
		if got.Params[i] != original.Params[i] {
			t.Errorf("Params[%d] = %v, want %v", i, got.Params[i], original.Params[i])
		}
	}
}

func TestCodec_EncodeFrameShape(t *testing.T) {
	frame, err := Encode(NewCall("set_auth_token", "unauthorized_user_token"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	s := string(frame)
	if !strings.HasPrefix(s, "~m~") {
		t.Fatalf("frame %q missing leading delimiter", s)
	}

	// Declared length must count the payload bytes exactly.
	rest := strings.TrimPrefix(s, "~m~")
	sep := strings.Index(rest, "~m~")
	if sep < 0 {
		t.Fatalf("frame %q missing length delimiter", s)
	}
	payload := rest[sep+3:]
	declared := rest[:sep]
	if declared != fmt.Sprintf("%d", len(payload)) {
		t.Errorf("declared length = %s, payload has %d bytes", declared, len(payload))
	}
}

func TestCodec_DecodeMultipleFrames(t *testing.T) {
	first, _ := Encode(NewCall("set_locale", "en", "US"))
	second, _ := Encode(NewCall("quote_create_session", "qs_xyz"))
	buf := append(append([]byte{}, first...), second...)

	messages, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Decode() returned %d messages, want 2", len(messages))
	}
	if messages[0].Method != "set_locale" {
		t.Errorf("messages[0].Method = %q, want set_locale", messages[0].Method)
	}
	if messages[1].Method != "quote_create_session" {
		t.Errorf("messages[1].Method = %q, want quote_create_session", messages[1].Method)
	}
}

func TestCodec_DecodeHandshake(t *testing.T) {
	payload := `{"session_id":"srv_42","timestamp":1700000000}`
	frame := fmt.Sprintf("~m~%d~m~%s", len(payload), payload)

	messages, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("Decode() returned %d messages, want 1", len(messages))
	}
	if !messages[0].IsHandshake() {
		t.Fatal("expected handshake message")
	}
	if got := messages[0].HandshakeSessionID(); got != "srv_42" {
		t.Errorf("HandshakeSessionID() = %q, want srv_42", got)
	}
}

func TestCodec_DecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"missing leading delimiter": `{"m":"ping","p":[]}`,
		"missing length delimiter":  "~m~17",
		"non-integer length":        "~m~abc~m~{}",
		"negative length":           "~m~-4~m~{}",
		"truncated payload":         `~m~50~m~{"m":"ping"}`,
		"invalid json payload":      "~m~7~m~not-j{s",
	}

	for name, input := range cases {
		if _, err := Decode([]byte(input)); err == nil {
			t.Errorf("%s: Decode() expected error", name)
		} else if !helpers.IsProtocolError(err) {
			t.Errorf("%s: error %v is not a protocol error", name, err)
		}
	}
}

func TestCodec_DecodeMalformedReturnsNothing(t *testing.T) {
	good, _ := Encode(NewCall("ping"))
	buf := append(append([]byte{}, good...), []byte("~m~bad")...)

	messages, err := Decode(buf)
	if err == nil {
		t.Fatal("Decode() expected error for trailing garbage")
	}
	if messages != nil {
		t.Errorf("Decode() returned %d partial messages, want none", len(messages))
	}
}

func TestSymbolSpec(t *testing.T) {
	spec := SymbolSpec("BINANCE:BTCUSDT", "")
	if !strings.HasPrefix(spec, "=") {
		t.Fatalf("spec %q missing = prefix", spec)
	}
	if !strings.Contains(spec, `"adjustment":"splits"`) {
		t.Errorf("spec %q missing adjustment field", spec)
	}
	if !strings.Contains(spec, `"symbol":"BINANCE:BTCUSDT"`) {
		t.Errorf("spec %q missing symbol field", spec)
	}
	if strings.Contains(spec, "session-features") {
		t.Errorf("spec %q carries features without a request", spec)
	}

	withFeature := SymbolSpec("NASDAQ:AAPL", "cvd")
	if !strings.Contains(withFeature, `"session-features":["cvd"]`) {
		t.Errorf("spec %q missing requested feature", withFeature)
	}
}

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := GenerateSessionID("cs")
		if !strings.HasPrefix(id, "cs_") {
			t.Fatalf("id %q missing prefix", id)
		}
		if len(id) != len("cs_")+12 {
			t.Fatalf("id %q has wrong length", id)
		}
		for _, r := range id[len("cs_"):] {
			if !strings.ContainsRune(sessionIDAlphabet, r) {
				t.Fatalf("id %q contains %q outside the alphabet", id, r)
			}
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = struct{}{}
	}
}
