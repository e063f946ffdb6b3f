package mqttpkt

import (
	"bytes"
	"testing"
)

// decodeFrame runs a full encoded frame through FrameReader + Decode,
// mirroring what Connection.feed/handleFrame do in production.
func decodeFrame(t *testing.T, data []byte) Packet {
	t.Helper()
	r := NewFrameReader()
	status, consumed := r.Feed(data)
	if status != FrameComplete {
		t.Fatalf("Feed: expected FrameComplete, got %v", status)
	}
	if consumed != len(data) {
		t.Fatalf("Feed: consumed %d of %d bytes", consumed, len(data))
	}
	_, body := r.Frame()
	pkt, err := Decode(r.Header(), body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return pkt
}

func TestConnectRoundtrip(t *testing.T) {
	p := &ConnectPacket{
		ProtocolName:  "MQTT",
		ProtocolLevel: 4,
		CleanSession:  true,
		WillFlag:      true,
		WillQoS:       1,
		WillRetain:    true,
		UsernameFlag:  true,
		PasswordFlag:  true,
		KeepAlive:     60,
		ClientID:      "client-1",
		WillTopic:     "clients/client-1/status",
		WillPayload:   []byte("offline"),
		Username:      "alice",
		Password:      []byte("s3cret"),
	}
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got := decodeFrame(t, data).(*ConnectPacket)
	if got.ProtocolLevel != p.ProtocolLevel || got.CleanSession != p.CleanSession ||
		got.WillFlag != p.WillFlag || got.WillQoS != p.WillQoS || got.WillRetain != p.WillRetain ||
		got.UsernameFlag != p.UsernameFlag || got.PasswordFlag != p.PasswordFlag ||
		got.KeepAlive != p.KeepAlive || got.ClientID != p.ClientID ||
		got.WillTopic != p.WillTopic || !bytes.Equal(got.WillPayload, p.WillPayload) ||
		got.Username != p.Username || !bytes.Equal(got.Password, p.Password) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, p)
	}
}

func TestPublishRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *PublishPacket
	}{
		{"qos0", &PublishPacket{Topic: "a/b", Payload: []byte("hi")}},
		{"qos1", &PublishPacket{Topic: "a/b", QoS: 1, PacketID: 42, Payload: []byte("hi")}},
		{"qos2 retain dup", &PublishPacket{Topic: "a/b", QoS: 2, PacketID: 7, Retain: true, Dup: true, Payload: []byte("hi")}},
		{"empty payload", &PublishPacket{Topic: "a/b", Payload: nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.pkt.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got := decodeFrame(t, data).(*PublishPacket)
			if got.Topic != tt.pkt.Topic || got.QoS != tt.pkt.QoS || got.Retain != tt.pkt.Retain ||
				got.Dup != tt.pkt.Dup || !bytes.Equal(got.Payload, tt.pkt.Payload) {
				t.Errorf("roundtrip mismatch: got %+v, want %+v", got, tt.pkt)
			}
			if tt.pkt.QoS > 0 && got.PacketID != tt.pkt.PacketID {
				t.Errorf("PacketID mismatch: got %d, want %d", got.PacketID, tt.pkt.PacketID)
			}
		})
	}
}

func TestPublishRejectsDupWithoutQoS(t *testing.T) {
	// Build a PUBLISH body by hand (topic "a") with DUP=1, QoS=0: the
	// decoder must reject this combination even though Encode, which
	// only ever serializes this side's own well-formed state, would
	// never produce it.
	body := writeString(nil, "a")
	h := FixedHeader{Type: PUBLISH, Flags: 0x08, RemainingLen: len(body)}
	if _, err := Decode(h, body); err == nil {
		t.Error("expected malformed error for DUP=1 with QoS=0")
	}
}

func TestAckLikeRoundtrip(t *testing.T) {
	if got := decodeFrame(t, mustEncode(t, &PubackPacket{PacketID: 1})).(*PubackPacket); got.PacketID != 1 {
		t.Errorf("PUBACK roundtrip: got %d, want 1", got.PacketID)
	}
	if got := decodeFrame(t, mustEncode(t, &PubrecPacket{PacketID: 2})).(*PubrecPacket); got.PacketID != 2 {
		t.Errorf("PUBREC roundtrip: got %d, want 2", got.PacketID)
	}
	if got := decodeFrame(t, mustEncode(t, &PubrelPacket{PacketID: 3})).(*PubrelPacket); got.PacketID != 3 {
		t.Errorf("PUBREL roundtrip: got %d, want 3", got.PacketID)
	}
	if got := decodeFrame(t, mustEncode(t, &PubcompPacket{PacketID: 4})).(*PubcompPacket); got.PacketID != 4 {
		t.Errorf("PUBCOMP roundtrip: got %d, want 4", got.PacketID)
	}
}

func TestSubscribeRoundtrip(t *testing.T) {
	p := &SubscribePacket{
		PacketID: 10,
		Subscriptions: []Subscription{
			{Filter: "a/b", QoS: 0},
			{Filter: "a/+/c", QoS: 1},
			{Filter: "#", QoS: 2},
		},
	}
	got := decodeFrame(t, mustEncode(t, p)).(*SubscribePacket)
	if got.PacketID != p.PacketID || len(got.Subscriptions) != len(p.Subscriptions) {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, p)
	}
	for i := range p.Subscriptions {
		if got.Subscriptions[i] != p.Subscriptions[i] {
			t.Errorf("subscription %d mismatch: got %+v, want %+v", i, got.Subscriptions[i], p.Subscriptions[i])
		}
	}
}

func TestUnsubscribeRoundtrip(t *testing.T) {
	p := &UnsubscribePacket{PacketID: 11, Filters: []string{"a/b", "c/#"}}
	got := decodeFrame(t, mustEncode(t, p)).(*UnsubscribePacket)
	if got.PacketID != p.PacketID || len(got.Filters) != len(p.Filters) || got.Filters[0] != p.Filters[0] || got.Filters[1] != p.Filters[1] {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", got, p)
	}
}

func TestZeroBodyPacketsRoundtrip(t *testing.T) {
	if _, ok := decodeFrame(t, mustEncode(t, &PingreqPacket{})).(*PingreqPacket); !ok {
		t.Error("PINGREQ roundtrip failed")
	}
	if _, ok := decodeFrame(t, mustEncode(t, &PingrespPacket{})).(*PingrespPacket); !ok {
		t.Error("PINGRESP roundtrip failed")
	}
	if _, ok := decodeFrame(t, mustEncode(t, &DisconnectPacket{})).(*DisconnectPacket); !ok {
		t.Error("DISCONNECT roundtrip failed")
	}
}

func TestCheckFlagsRejectsWrongBits(t *testing.T) {
	tests := []struct {
		name  string
		typ   PacketType
		flags byte
		ok    bool
	}{
		{"PUBREL correct", PUBREL, 0x02, true},
		{"PUBREL wrong", PUBREL, 0x00, false},
		{"SUBSCRIBE correct", SUBSCRIBE, 0x02, true},
		{"SUBSCRIBE wrong", SUBSCRIBE, 0x03, false},
		{"UNSUBSCRIBE correct", UNSUBSCRIBE, 0x02, true},
		{"PINGREQ correct", PINGREQ, 0x00, true},
		{"PINGREQ wrong", PINGREQ, 0x01, false},
		{"DISCONNECT wrong", DISCONNECT, 0x02, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFlags(tt.typ, tt.flags)
			if (err == nil) != tt.ok {
				t.Errorf("checkFlags(%s, %04b): err=%v, want ok=%v", tt.typ, tt.flags, err, tt.ok)
			}
		})
	}
}

func TestFrameReaderWaitsForFullRemainingLength(t *testing.T) {
	// A PUBLISH frame declares remaining length 5 but only 2 bytes of
	// body have arrived so far; the reader must hold off (never decode
	// a short/truncated body) until the rest shows up.
	r := NewFrameReader()
	status, consumed := r.Feed([]byte{byte(PUBLISH) << 4, 0x05, 't', 'o'})
	if status != NeedMore {
		t.Fatalf("expected NeedMore while frame is still incomplete, got %v", status)
	}
	if consumed != 4 {
		t.Fatalf("expected all 4 supplied bytes to be consumed, got %d", consumed)
	}
	if r.Needed() != 3 {
		t.Fatalf("Needed() = %d, want 3 more body bytes", r.Needed())
	}
	status, _ = r.Feed([]byte{'p', 'i', 'c'})
	if status != FrameComplete {
		t.Fatalf("expected FrameComplete once the remaining length is satisfied, got %v", status)
	}
}

func mustEncode(t *testing.T, p Encodable) []byte {
	t.Helper()
	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode(%s): %v", p.Type(), err)
	}
	return data
}
