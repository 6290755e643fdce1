package proto

import (
	"encoding/json"
	"testing"
)

func TestValidRoomCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"AB12CD", true},
		{"ZZZZZZ", true},
		{"000000", true},
		{"abcdef", false}, // not normalized
		{"ABCDE", false},
		{"ABCDEFG", false},
		{"AB 3CD", false},
		{"AB12C!", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidRoomCode(tt.code); got != tt.want {
			t.Errorf("ValidRoomCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestNormalizeRoomCode(t *testing.T) {
	if got := NormalizeRoomCode("  ab23cd "); got != "AB23CD" {
		t.Fatalf("normalize: got %q", got)
	}
}

func TestDecodeAsPassesThroughTypedValues(t *testing.T) {
	in := JoinData{Room: "AB23CD"}
	out, err := DecodeAs[JoinData](in)
	if err != nil || out.Room != "AB23CD" {
		t.Fatalf("decode typed: %+v err=%v", out, err)
	}
}

func TestDecodeAsUnmarshalsRawJSON(t *testing.T) {
	raw := json.RawMessage(`{"room":"AB23CD"}`)
	out, err := DecodeAs[JoinData](raw)
	if err != nil || out.Room != "AB23CD" {
		t.Fatalf("decode raw: %+v err=%v", out, err)
	}

	b, err := DecodeAs[bool](json.RawMessage(`true`))
	if err != nil || !b {
		t.Fatalf("decode bool: %v err=%v", b, err)
	}
}

func TestDecodeAsRoundTripsMaps(t *testing.T) {
	out, err := DecodeAs[PlayerData](map[string]any{"room": "AB23CD", "player": "p1"})
	if err != nil || out.Room != "AB23CD" || out.Player != "p1" {
		t.Fatalf("decode map: %+v err=%v", out, err)
	}
}
