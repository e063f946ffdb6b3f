package broker

import (
	"testing"

	"github.com/nimbusmq/broker/internal/mqttpkt"
)

func TestRetainStoresAndMatches(t *testing.T) {
	store := NewRetainedStore()
	store.Retain(&mqttpkt.PublishPacket{Topic: "sensors/room1/temp", Payload: []byte("21C")})

	matches := store.MatchAll("sensors/+/temp")
	if len(matches) != 1 {
		t.Fatalf("MatchAll: got %d, want 1", len(matches))
	}
	if string(matches[0].Payload) != "21C" {
		t.Errorf("Payload = %q, want %q", matches[0].Payload, "21C")
	}
	if !matches[0].Retain {
		t.Error("stored message must have Retain set regardless of the original flag")
	}
}

func TestRetainEmptyPayloadClears(t *testing.T) {
	store := NewRetainedStore()
	store.Retain(&mqttpkt.PublishPacket{Topic: "a/b", Payload: []byte("x")})
	if store.Size() != 1 {
		t.Fatalf("Size after first retain = %d, want 1", store.Size())
	}

	store.Retain(&mqttpkt.PublishPacket{Topic: "a/b", Payload: nil})
	if store.Size() != 0 {
		t.Errorf("Size after empty-payload retain = %d, want 0", store.Size())
	}
}

func TestRetainReplacesPreviousMessage(t *testing.T) {
	store := NewRetainedStore()
	store.Retain(&mqttpkt.PublishPacket{Topic: "a/b", Payload: []byte("old")})
	store.Retain(&mqttpkt.PublishPacket{Topic: "a/b", Payload: []byte("new")})

	matches := store.MatchAll("a/b")
	if len(matches) != 1 || string(matches[0].Payload) != "new" {
		t.Errorf("MatchAll = %v, want a single message with payload %q", matches, "new")
	}
}

func TestMatchAllNoMatchReturnsEmpty(t *testing.T) {
	store := NewRetainedStore()
	store.Retain(&mqttpkt.PublishPacket{Topic: "a/b", Payload: []byte("x")})
	if matches := store.MatchAll("c/d"); len(matches) != 0 {
		t.Errorf("MatchAll(c/d) = %v, want empty", matches)
	}
}
