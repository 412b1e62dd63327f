package protocol

import "fmt"

type scanResult uint8

const (
	scanOK scanResult = iota
	scanIncomplete
	scanInvalid
)

// scanFrame validates the block at the start of data
func scanFrame(data []byte) (Message, int, scanResult) {
	if len(data) < MessageLengthMin {
		return Message{}, 0, scanIncomplete
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return Message{}, 0, scanInvalid
	}
	seq := data[MessagePositionSeq]
	if seq&^MessageSeqMask != MessageDest {
		return Message{}, 0, scanInvalid
	}
	if len(data) < msgLen {
		return Message{}, 0, scanIncomplete
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return Message{}, 0, scanInvalid
	}

	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return Message{}, 0, scanInvalid
	}

	payload := make([]byte, msgLen-MessageLengthMin)
	copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
	return Message{
		Length:   uint8(msgLen),
		Sequence: seq,
		Payload:  payload,
		CRC:      frameCRC,
	}, msgLen, scanOK
}

// EncodeFrame wraps payload into a block with sequence byte seq
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}
	block := make([]byte, 0, msgLen)
	block = append(block, uint8(msgLen), seq)
	block = append(block, payload...)
	crc := CRC16(block)
	return append(block, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

type decodeEvent uint8

const (
	decodeNone decodeEvent = iota
	decodeFrame
	decodeResync // lost sync and found a sync byte again
)

// frameDecoder splits a byte stream into blocks. After a corrupt block it
// discards input up to the next sync byte.
type frameDecoder struct {
	buf      []byte
	unsynced bool
}

func (d *frameDecoder) write(p []byte) {
	d.buf = append(d.buf, p...)
}

// next returns the next decoded block, or decodeNone when more input is needed
func (d *frameDecoder) next() (Message, decodeEvent) {
	for len(d.buf) > 0 {
		if d.unsynced {
			i := 0
			for i < len(d.buf) && d.buf[i] != MessageValueSync {
				i++
			}
			if i == len(d.buf) {
				d.buf = d.buf[:0]
				return Message{}, decodeNone
			}
			d.consume(i + 1)
			d.unsynced = false
			return Message{}, decodeResync
		}

		if d.buf[0] == MessageValueSync {
			d.consume(1)
			continue
		}

		msg, n, res := scanFrame(d.buf)
		switch res {
		case scanIncomplete:
			return Message{}, decodeNone
		case scanInvalid:
			d.unsynced = true
			continue
		}
		d.consume(n)
		return msg, decodeFrame
	}
	return Message{}, decodeNone
}

func (d *frameDecoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
