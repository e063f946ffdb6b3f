package mqttpkt

import (
	"encoding/binary"
	"fmt"
)

// EncodeRemainingLength encodes n using the MQTT variable-length
// scheme: base-128, little-endian, continuation bit set on every byte
// but the last. Fails if n exceeds MaxRemainingLength.
func EncodeRemainingLength(n int) ([]byte, error) {
	if n < 0 || n > MaxRemainingLength {
		return nil, fmt.Errorf("mqttpkt: remaining length %d out of range", n)
	}
	var buf []byte
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if n == 0 {
			break
		}
	}
	return buf, nil
}

// DecodeRemainingLength reads a variable-length remaining-length field
// from buf, starting at offset. It returns the decoded value and the
// number of bytes consumed. A 5th continuation byte is malformed.
func DecodeRemainingLength(buf []byte, offset int) (value int, consumed int, err error) {
	multiplier := 1
	for i := 0; ; i++ {
		if i >= 4 {
			return 0, 0, malformed("remaining length field exceeds 4 bytes")
		}
		if offset+i >= len(buf) {
			return 0, 0, malformed("truncated remaining length field")
		}
		b := buf[offset+i]
		value += int(b&0x7F) * multiplier
		consumed++
		if b&0x80 == 0 {
			return value, consumed, nil
		}
		multiplier *= 128
	}
}

// readString decodes a 2-byte-length-prefixed UTF-8 string starting at
// *offset in buf, advancing *offset past it.
func readString(buf []byte, offset *int) (string, error) {
	if *offset+2 > len(buf) {
		return "", malformed("truncated string length prefix")
	}
	n := int(binary.BigEndian.Uint16(buf[*offset:]))
	*offset += 2
	if *offset+n > len(buf) {
		return "", malformed("string length %d exceeds remaining buffer", n)
	}
	s := string(buf[*offset : *offset+n])
	*offset += n
	return s, nil
}

// readBinary decodes a 2-byte-length-prefixed binary field.
func readBinary(buf []byte, offset *int) ([]byte, error) {
	if *offset+2 > len(buf) {
		return nil, malformed("truncated binary length prefix")
	}
	n := int(binary.BigEndian.Uint16(buf[*offset:]))
	*offset += 2
	if *offset+n > len(buf) {
		return nil, malformed("binary length %d exceeds remaining buffer", n)
	}
	b := make([]byte, n)
	copy(b, buf[*offset:*offset+n])
	*offset += n
	return b, nil
}

func readUint16(buf []byte, offset *int) (uint16, error) {
	if *offset+2 > len(buf) {
		return 0, malformed("truncated u16 field")
	}
	v := binary.BigEndian.Uint16(buf[*offset:])
	*offset += 2
	return v, nil
}

func writeString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func writeBinary(buf []byte, b []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func writeUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

// checkStringLength fails encoders asked to write an oversized string
// or binary field.
func checkStringLength(n int) error {
	if n > MaxStringLength {
		return fmt.Errorf("mqttpkt: field of length %d exceeds max %d", n, MaxStringLength)
	}
	return nil
}
