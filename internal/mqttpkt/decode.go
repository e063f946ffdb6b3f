package mqttpkt

import "strings"

// Decode turns a completed frame (fixed header + body, as produced by
// FrameReader) into a concrete Packet, validating flag bits and that
// the body was consumed exactly.
func Decode(h FixedHeader, body []byte) (Packet, error) {
	if err := checkFlags(h.Type, h.Flags); err != nil {
		return nil, err
	}
	switch h.Type {
	case CONNECT:
		return decodeConnect(body)
	case PUBLISH:
		return decodePublish(h, body)
	case PUBACK:
		return decodePubAckLike(body, func(id uint16) Packet { return &PubackPacket{PacketID: id} })
	case PUBREC:
		return decodePubAckLike(body, func(id uint16) Packet { return &PubrecPacket{PacketID: id} })
	case PUBREL:
		return decodePubAckLike(body, func(id uint16) Packet { return &PubrelPacket{PacketID: id} })
	case PUBCOMP:
		return decodePubAckLike(body, func(id uint16) Packet { return &PubcompPacket{PacketID: id} })
	case SUBSCRIBE:
		return decodeSubscribe(body)
	case UNSUBSCRIBE:
		return decodeUnsubscribe(body)
	case PINGREQ:
		if len(body) != 0 {
			return nil, malformed("PINGREQ must have zero remaining length")
		}
		return &PingreqPacket{}, nil
	case PINGRESP:
		if len(body) != 0 {
			return nil, malformed("PINGRESP must have zero remaining length")
		}
		return &PingrespPacket{}, nil
	case DISCONNECT:
		if len(body) != 0 {
			return nil, malformed("DISCONNECT must have zero remaining length")
		}
		return &DisconnectPacket{}, nil
	case CONNACK:
		if len(body) != 2 || body[0]&0xFE != 0 {
			return nil, malformed("CONNACK must be 2 bytes with only the session-present flag bit")
		}
		return &ConnackPacket{SessionPresent: body[0]&0x01 != 0, ReturnCode: body[1]}, nil
	case SUBACK:
		offset := 0
		id, err := readUint16(body, &offset)
		if err != nil || offset >= len(body) {
			return nil, malformed("SUBACK must carry a packet id and at least one return code")
		}
		return &SubackPacket{PacketID: id, ReturnCodes: append([]byte(nil), body[offset:]...)}, nil
	case UNSUBACK:
		return decodePubAckLike(body, func(id uint16) Packet { return &UnsubackPacket{PacketID: id} })
	default:
		return nil, malformed("unknown packet type %d", h.Type)
	}
}

// checkFlags enforces the per-type fixed-header flag rules from
// spec.md §4.1: most types require flags=0000, PUBREL/SUBSCRIBE/
// UNSUBSCRIBE require flags=0010, PUBLISH flags are the DUP/QoS/RETAIN
// bits and are checked separately in decodePublish.
func checkFlags(t PacketType, flags byte) error {
	switch t {
	case PUBLISH:
		return nil
	case PUBREL, SUBSCRIBE, UNSUBSCRIBE:
		if flags != 0x02 {
			return malformed("%s requires reserved flag bits 0010, got %04b", t, flags)
		}
	default:
		if flags != 0x00 {
			return malformed("%s requires reserved flag bits 0000, got %04b", t, flags)
		}
	}
	return nil
}

func decodeConnect(body []byte) (*ConnectPacket, error) {
	offset := 0
	p := &ConnectPacket{}

	protocolName, err := readString(body, &offset)
	if err != nil {
		return nil, err
	}
	if protocolName == "" {
		return nil, malformed("CONNECT protocol name must be non-empty")
	}
	p.ProtocolName = protocolName

	if offset+1 > len(body) {
		return nil, malformed("truncated CONNECT: missing protocol level")
	}
	p.ProtocolLevel = body[offset]
	offset++

	if offset+1 > len(body) {
		return nil, malformed("truncated CONNECT: missing connect flags")
	}
	flags := body[offset]
	offset++
	p.UsernameFlag = flags&0x80 != 0
	p.PasswordFlag = flags&0x40 != 0
	p.WillRetain = flags&0x20 != 0
	p.WillQoS = (flags >> 3) & 0x03
	p.WillFlag = flags&0x04 != 0
	p.CleanSession = flags&0x02 != 0
	if flags&0x01 != 0 {
		return nil, malformed("CONNECT reserved flag bit must be 0")
	}
	if p.WillFlag && p.WillQoS == 3 {
		return nil, malformed("CONNECT will-qos must not be 3")
	}
	if !p.WillFlag && (p.WillQoS != 0 || p.WillRetain) {
		return nil, malformed("CONNECT will-qos/will-retain set without will-flag")
	}
	if p.PasswordFlag && !p.UsernameFlag {
		return nil, malformed("CONNECT password-present requires username-present")
	}

	keepAlive, err := readUint16(body, &offset)
	if err != nil {
		return nil, err
	}
	p.KeepAlive = keepAlive

	clientID, err := readString(body, &offset)
	if err != nil {
		return nil, err
	}
	if err := validateUTF8Field(clientID); err != nil {
		return nil, err
	}
	p.ClientID = clientID

	if p.WillFlag {
		willTopic, err := readString(body, &offset)
		if err != nil {
			return nil, err
		}
		if err := validateUTF8Field(willTopic); err != nil {
			return nil, err
		}
		p.WillTopic = willTopic

		willPayload, err := readBinary(body, &offset)
		if err != nil {
			return nil, err
		}
		p.WillPayload = willPayload
	}

	if p.UsernameFlag {
		username, err := readString(body, &offset)
		if err != nil {
			return nil, err
		}
		p.Username = username
	}

	if p.PasswordFlag {
		password, err := readBinary(body, &offset)
		if err != nil {
			return nil, err
		}
		p.Password = password
	}

	if offset != len(body) {
		return nil, malformed("CONNECT: %d trailing bytes after decode", len(body)-offset)
	}
	return p, nil
}

func decodePublish(h FixedHeader, body []byte) (*PublishPacket, error) {
	p := &PublishPacket{
		Dup:    h.Flags&0x08 != 0,
		QoS:    (h.Flags >> 1) & 0x03,
		Retain: h.Flags&0x01 != 0,
	}
	if p.QoS == 3 {
		return nil, malformed("PUBLISH QoS bits must not be 11")
	}
	if p.Dup && p.QoS == 0 {
		return nil, malformed("PUBLISH DUP must be 0 when QoS is 0")
	}

	offset := 0
	topic, err := readString(body, &offset)
	if err != nil {
		return nil, err
	}
	if err := validateTopicName(topic); err != nil {
		return nil, err
	}
	p.Topic = topic

	if p.QoS > 0 {
		packetID, err := readUint16(body, &offset)
		if err != nil {
			return nil, err
		}
		if packetID == 0 {
			return nil, malformed("PUBLISH packet id must not be 0 for QoS > 0")
		}
		p.PacketID = packetID
	}

	p.Payload = append([]byte(nil), body[offset:]...)
	return p, nil
}

func decodePubAckLike(body []byte, build func(uint16) Packet) (Packet, error) {
	if len(body) != 2 {
		return nil, malformed("expected 2-byte packet id body, got %d bytes", len(body))
	}
	offset := 0
	id, err := readUint16(body, &offset)
	if err != nil {
		return nil, err
	}
	return build(id), nil
}

func decodeSubscribe(body []byte) (*SubscribePacket, error) {
	offset := 0
	packetID, err := readUint16(body, &offset)
	if err != nil {
		return nil, err
	}
	if packetID == 0 {
		return nil, malformed("SUBSCRIBE packet id must not be 0")
	}
	p := &SubscribePacket{PacketID: packetID}

	if offset >= len(body) {
		return nil, malformed("SUBSCRIBE must carry at least one topic filter")
	}
	for offset < len(body) {
		filter, err := readString(body, &offset)
		if err != nil {
			return nil, err
		}
		if offset+1 > len(body) {
			return nil, malformed("truncated SUBSCRIBE: missing requested QoS")
		}
		qos := body[offset]
		offset++
		if qos&0xFC != 0 {
			return nil, malformed("SUBSCRIBE requested QoS has reserved bits set")
		}
		p.Subscriptions = append(p.Subscriptions, Subscription{Filter: filter, QoS: qos})
	}
	return p, nil
}

func decodeUnsubscribe(body []byte) (*UnsubscribePacket, error) {
	offset := 0
	packetID, err := readUint16(body, &offset)
	if err != nil {
		return nil, err
	}
	if packetID == 0 {
		return nil, malformed("UNSUBSCRIBE packet id must not be 0")
	}
	p := &UnsubscribePacket{PacketID: packetID}

	if offset >= len(body) {
		return nil, malformed("UNSUBSCRIBE must carry at least one topic filter")
	}
	for offset < len(body) {
		filter, err := readString(body, &offset)
		if err != nil {
			return nil, err
		}
		p.Filters = append(p.Filters, filter)
	}
	return p, nil
}

func validateUTF8Field(s string) error {
	if strings.ContainsRune(s, 0) {
		return malformed("field contains an embedded NUL")
	}
	return nil
}

// validateTopicName enforces spec.md §3's PUBLISH topic invariants:
// 1..65535 bytes, no NUL, no wildcard characters.
func validateTopicName(topic string) error {
	if len(topic) == 0 {
		return malformed("PUBLISH topic must not be empty")
	}
	if len(topic) > MaxStringLength {
		return malformed("PUBLISH topic exceeds max length")
	}
	if strings.ContainsRune(topic, 0) {
		return malformed("PUBLISH topic contains an embedded NUL")
	}
	if strings.ContainsAny(topic, "+#") {
		return malformed("PUBLISH topic must not contain wildcard characters")
	}
	return nil
}
