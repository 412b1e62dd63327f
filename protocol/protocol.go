// Package protocol implements the framed serial protocol spoken between the
// host and a pulse engine MCU. Commands are VLQ-encoded into blocks with a
// length byte, a sequence byte, a CRC16 and a trailing sync byte, the block
// format used by Klipper MCUs.
package protocol

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin

	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F

	// ScratchSize bounds a single encoded command or response
	ScratchSize = 512
)

// Message is one received block
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // frame contents between header and trailer
	CRC      uint16
}

// IsAck reports whether the block carries no payload (ACK or NAK)
func (m *Message) IsAck() bool {
	return len(m.Payload) == 0
}

// NextSequence returns the sequence byte following seq, wrapping within 0x10-0x1F
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
