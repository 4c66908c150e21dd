package protocol

import "bytes"

// AppendFrame appends a complete frame around payload to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return dst, ErrMessageTooLong
	}
	start := len(dst)
	dst = append(dst, uint8(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// scanner splits a byte stream into validated frames. After any framing
// error it discards input up to the next sync byte.
type scanner struct {
	desynced bool
	// resync runs each time the scanner regains sync.
	resync func()
}

// scan calls frame for each complete frame in data and returns how many
// bytes were consumed. A partial trailing frame is left unconsumed.
func (s *scanner) scan(data []byte, frame func(Message)) int {
	total := len(data)
	for len(data) > 0 {
		if s.desynced {
			i := bytes.IndexByte(data, MessageValueSync)
			if i < 0 {
				data = data[len(data):]
				break
			}
			data = data[i+1:]
			s.desynced = false
			if s.resync != nil {
				s.resync()
			}
			continue
		}
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}
		n := int(data[MessagePositionLen])
		seq := data[MessagePositionSeq]
		if n < MessageLengthMin || n > MessageLengthMax || seq&^MessageSeqMask != MessageDest {
			s.desynced = true
			continue
		}
		if len(data) < n {
			break
		}
		crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
		if data[n-MessageTrailerSync] != MessageValueSync || crc != CRC16(data[:n-MessageTrailerSize]) {
			s.desynced = true
			continue
		}
		frame(Message{
			Length:   uint8(n),
			Sequence: seq,
			Payload:  data[MessageHeaderSize : n-MessageTrailerSize],
			CRC:      crc,
		})
		data = data[n:]
	}
	return total - len(data)
}
