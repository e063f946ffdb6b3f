package mqttpkt

import (
	"bytes"
	"testing"
)

func TestFrameReaderByteAtATime(t *testing.T) {
	pkt := &PublishPacket{Topic: "a/b", Payload: []byte("hello")}
	data, err := pkt.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r := NewFrameReader()
	var status FrameStatus
	for i, b := range data {
		status, _ = r.Feed([]byte{b})
		if i < len(data)-1 && status != NeedMore {
			t.Fatalf("Feed byte %d: expected NeedMore, got %v", i, status)
		}
	}
	if status != FrameComplete {
		t.Fatalf("expected FrameComplete after final byte, got %v", status)
	}
	_, body := r.Frame()
	got, err := Decode(r.Header(), body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pub := got.(*PublishPacket)
	if pub.Topic != pkt.Topic || !bytes.Equal(pub.Payload, pkt.Payload) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", pub, pkt)
	}
}

func TestFrameReaderTwoFramesInOneChunk(t *testing.T) {
	first, _ := (&PingreqPacket{}).Encode()
	second, _ := (&PublishPacket{Topic: "x", Payload: []byte("y")}).Encode()
	chunk := append(append([]byte{}, first...), second...)

	r := NewFrameReader()
	status, consumed := r.Feed(chunk)
	if status != FrameComplete {
		t.Fatalf("first frame: expected FrameComplete, got %v", status)
	}
	if _, ok := mustDecodeFrame(t, r).(*PingreqPacket); !ok {
		t.Fatal("first frame: expected PINGREQ")
	}
	r.Reset()

	status, consumed2 := r.Feed(chunk[consumed:])
	if status != FrameComplete {
		t.Fatalf("second frame: expected FrameComplete, got %v", status)
	}
	if consumed+consumed2 != len(chunk) {
		t.Errorf("total bytes consumed = %d, want %d", consumed+consumed2, len(chunk))
	}
	pub, ok := mustDecodeFrame(t, r).(*PublishPacket)
	if !ok {
		t.Fatal("second frame: expected PUBLISH")
	}
	if pub.Topic != "x" {
		t.Errorf("second frame topic = %q, want %q", pub.Topic, "x")
	}
}

func TestFrameReaderRejectsOverlongRemainingLength(t *testing.T) {
	r := NewFrameReader()
	data := []byte{byte(PUBLISH) << 4, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F}
	status, _ := r.Feed(data)
	if status != FrameMalformed {
		t.Errorf("expected FrameMalformed for a 5-byte remaining-length field, got %v", status)
	}
}

func mustDecodeFrame(t *testing.T, r *FrameReader) Packet {
	t.Helper()
	_, body := r.Frame()
	pkt, err := Decode(r.Header(), body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return pkt
}
