package broker

import (
	"testing"

	"github.com/nimbusmq/broker/internal/mqttpkt"
)

func TestSubscribeGrantsAndClampsQoS(t *testing.T) {
	reg := NewSubscriptionRegistry()
	codes := reg.Subscribe("client-1", []mqttpkt.Subscription{
		{Filter: "a/b", QoS: 0},
		{Filter: "a/+", QoS: 1},
		{Filter: "#", QoS: 5}, // above MaxGrantedQoS, must clamp
	})
	want := []byte{0, 1, MaxGrantedQoS}
	if len(codes) != len(want) {
		t.Fatalf("len(codes) = %d, want %d", len(codes), len(want))
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes[%d] = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestSubscribeRejectsInvalidFilter(t *testing.T) {
	reg := NewSubscriptionRegistry()
	codes := reg.Subscribe("client-1", []mqttpkt.Subscription{
		{Filter: "a/b#", QoS: 0},
	})
	if codes[0] != mqttpkt.SubackFailure {
		t.Errorf("codes[0] = %d, want SubackFailure", codes[0])
	}
}

func TestResolveMatchesAndReportsGrantedQoS(t *testing.T) {
	reg := NewSubscriptionRegistry()
	reg.Subscribe("client-1", []mqttpkt.Subscription{{Filter: "sensors/+/temp", QoS: 1}})
	reg.Subscribe("client-2", []mqttpkt.Subscription{{Filter: "sensors/#", QoS: 2}})

	resolved := reg.Resolve("sensors/room1/temp")
	if len(resolved) != 2 {
		t.Fatalf("Resolve: got %d subscribers, want 2", len(resolved))
	}
	byClient := map[string]byte{}
	for _, r := range resolved {
		byClient[r.ClientID] = r.QoS
	}
	if byClient["client-1"] != 1 {
		t.Errorf("client-1 granted QoS = %d, want 1", byClient["client-1"])
	}
	if byClient["client-2"] != 2 {
		t.Errorf("client-2 granted QoS = %d, want 2", byClient["client-2"])
	}
}

func TestResolveTakesHighestMatchingQoSPerClient(t *testing.T) {
	reg := NewSubscriptionRegistry()
	reg.Subscribe("client-1", []mqttpkt.Subscription{
		{Filter: "a/+", QoS: 0},
		{Filter: "a/#", QoS: 2},
	})

	resolved := reg.Resolve("a/b")
	if len(resolved) != 1 {
		t.Fatalf("Resolve: got %d rows, want 1", len(resolved))
	}
	if resolved[0].QoS != 2 {
		t.Errorf("QoS = %d, want 2 (the better of the two matching filters)", resolved[0].QoS)
	}
}

func TestUnsubscribeRemovesFilter(t *testing.T) {
	reg := NewSubscriptionRegistry()
	reg.Subscribe("client-1", []mqttpkt.Subscription{{Filter: "a/b", QoS: 0}})
	reg.Unsubscribe("client-1", []string{"a/b"})

	if resolved := reg.Resolve("a/b"); len(resolved) != 0 {
		t.Errorf("Resolve after Unsubscribe: got %d rows, want 0", len(resolved))
	}
}

func TestForgetRemovesAllOfAClient(t *testing.T) {
	reg := NewSubscriptionRegistry()
	reg.Subscribe("client-1", []mqttpkt.Subscription{
		{Filter: "a/b", QoS: 0},
		{Filter: "c/d", QoS: 1},
	})
	reg.Forget("client-1")

	if resolved := reg.Resolve("a/b"); len(resolved) != 0 {
		t.Errorf("Resolve(a/b) after Forget: got %d rows, want 0", len(resolved))
	}
	if resolved := reg.Resolve("c/d"); len(resolved) != 0 {
		t.Errorf("Resolve(c/d) after Forget: got %d rows, want 0", len(resolved))
	}
}
