package mqttpkt

// frame prepends a fixed header (type, flags, remaining length) to an
// already-serialized variable-header+payload body.
func frame(t PacketType, flags byte, body []byte) ([]byte, error) {
	rl, err := EncodeRemainingLength(len(body))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(rl)+len(body))
	out = append(out, byte(t)<<4|flags)
	out = append(out, rl...)
	out = append(out, body...)
	return out, nil
}

// Encode serializes a CONNECT packet. The core never sends CONNECT
// (it is always client-originated) but the codec implements it
// symmetrically for the roundtrip property and for test harnesses that
// build raw CONNECT bytes.
func (p *ConnectPacket) Encode() ([]byte, error) {
	if err := checkStringLength(len(p.ClientID)); err != nil {
		return nil, err
	}
	var body []byte
	body = writeString(body, "MQTT")
	body = append(body, p.ProtocolLevel)

	var flags byte
	if p.UsernameFlag {
		flags |= 0x80
	}
	if p.PasswordFlag {
		flags |= 0x40
	}
	if p.WillFlag {
		if p.WillRetain {
			flags |= 0x20
		}
		flags |= (p.WillQoS & 0x03) << 3
		flags |= 0x04
	}
	if p.CleanSession {
		flags |= 0x02
	}
	body = append(body, flags)
	body = writeUint16(body, p.KeepAlive)
	body = writeString(body, p.ClientID)

	if p.WillFlag {
		if err := checkStringLength(len(p.WillTopic)); err != nil {
			return nil, err
		}
		body = writeString(body, p.WillTopic)
		if err := checkStringLength(len(p.WillPayload)); err != nil {
			return nil, err
		}
		body = writeBinary(body, p.WillPayload)
	}
	if p.UsernameFlag {
		if err := checkStringLength(len(p.Username)); err != nil {
			return nil, err
		}
		body = writeString(body, p.Username)
	}
	if p.PasswordFlag {
		if err := checkStringLength(len(p.Password)); err != nil {
			return nil, err
		}
		body = writeBinary(body, p.Password)
	}
	return frame(CONNECT, 0, body)
}

// Encode serializes a CONNACK packet.
func (p *ConnackPacket) Encode() ([]byte, error) {
	body := make([]byte, 0, 2)
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	body = append(body, flags, p.ReturnCode)
	return frame(CONNACK, 0, body)
}

// Encode serializes a PUBLISH packet, in either direction.
func (p *PublishPacket) Encode() ([]byte, error) {
	if p.QoS > 2 {
		return nil, malformed("PUBLISH QoS must be 0, 1, or 2")
	}
	if err := validateTopicName(p.Topic); err != nil {
		return nil, err
	}
	if err := checkStringLength(len(p.Topic)); err != nil {
		return nil, err
	}

	var body []byte
	body = writeString(body, p.Topic)
	if p.QoS > 0 {
		body = writeUint16(body, p.PacketID)
	}
	body = append(body, p.Payload...)

	var flags byte
	if p.Dup {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}
	return frame(PUBLISH, flags, body)
}

func encodePacketIDOnly(t PacketType, flags byte, id uint16) ([]byte, error) {
	body := writeUint16(nil, id)
	return frame(t, flags, body)
}

func (p *PubackPacket) Encode() ([]byte, error)  { return encodePacketIDOnly(PUBACK, 0, p.PacketID) }
func (p *PubrecPacket) Encode() ([]byte, error)  { return encodePacketIDOnly(PUBREC, 0, p.PacketID) }
func (p *PubrelPacket) Encode() ([]byte, error)  { return encodePacketIDOnly(PUBREL, 0x02, p.PacketID) }
func (p *PubcompPacket) Encode() ([]byte, error) { return encodePacketIDOnly(PUBCOMP, 0, p.PacketID) }

// Encode serializes a SUBSCRIBE packet.
func (p *SubscribePacket) Encode() ([]byte, error) {
	if len(p.Subscriptions) == 0 {
		return nil, malformed("SUBSCRIBE must carry at least one topic filter")
	}
	body := writeUint16(nil, p.PacketID)
	for _, s := range p.Subscriptions {
		if err := checkStringLength(len(s.Filter)); err != nil {
			return nil, err
		}
		body = writeString(body, s.Filter)
		body = append(body, s.QoS)
	}
	return frame(SUBSCRIBE, 0x02, body)
}

// Encode serializes a SUBACK packet.
func (p *SubackPacket) Encode() ([]byte, error) {
	body := writeUint16(nil, p.PacketID)
	body = append(body, p.ReturnCodes...)
	return frame(SUBACK, 0, body)
}

// Encode serializes an UNSUBSCRIBE packet.
func (p *UnsubscribePacket) Encode() ([]byte, error) {
	if len(p.Filters) == 0 {
		return nil, malformed("UNSUBSCRIBE must carry at least one topic filter")
	}
	body := writeUint16(nil, p.PacketID)
	for _, f := range p.Filters {
		if err := checkStringLength(len(f)); err != nil {
			return nil, err
		}
		body = writeString(body, f)
	}
	return frame(UNSUBSCRIBE, 0x02, body)
}

// Encode serializes an UNSUBACK packet.
func (p *UnsubackPacket) Encode() ([]byte, error) {
	return encodePacketIDOnly(UNSUBACK, 0, p.PacketID)
}

// Encode serializes a PINGREQ packet.
func (p *PingreqPacket) Encode() ([]byte, error) { return frame(PINGREQ, 0, nil) }

// Encode serializes a PINGRESP packet.
func (p *PingrespPacket) Encode() ([]byte, error) { return frame(PINGRESP, 0, nil) }

// Encode serializes a DISCONNECT packet.
func (p *DisconnectPacket) Encode() ([]byte, error) { return frame(DISCONNECT, 0, nil) }
