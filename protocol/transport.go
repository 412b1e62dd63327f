package protocol

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// CommandHandler handles one decoded command. It must consume its own
// arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the protocol: it decodes blocks sent by the
// host, dispatches their commands in order, acknowledges every block and
// frames responses.
type Transport struct {
	dec frameDecoder

	// Expected sequence of the next host block, also used for responses
	nextSequence uint32

	writeMu sync.Mutex
	w       io.Writer

	handler       CommandHandler
	resetCallback func()
}

// NewTransport creates a transport writing blocks to w
func NewTransport(w io.Writer, handler CommandHandler) *Transport {
	return &Transport{
		nextSequence: MessageDest,
		w:            w,
		handler:      handler,
	}
}

// Receive consumes bytes read from the host. Partial blocks are kept until
// the rest arrives. Handler errors do not stop processing; the first one is
// returned.
func (t *Transport) Receive(data []byte) error {
	t.dec.write(data)

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for {
		msg, ev := t.dec.next()
		switch ev {
		case decodeNone:
			return firstErr
		case decodeResync:
			keep(t.sendAck())
			continue
		}

		expected := t.sequence()
		if msg.Sequence == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			expected = MessageDest
			t.Reset()
		}
		if msg.Sequence == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(NextSequence(expected)))
			keep(t.dispatch(msg.Payload))
		}
		// An out of order block is answered with the expected sequence, acting as a NAK
		keep(t.sendAck())
	}
}

// dispatch runs every command of a block
func (t *Transport) dispatch(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command handler panic: %v", r)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			return err
		}
		if t.handler == nil {
			return nil
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return fmt.Errorf("command %d: %w", cmdID, err)
		}
	}
	return nil
}

func (t *Transport) sendAck() error {
	return t.writeBlock(nil)
}

// SendCommand frames a response: the message ID followed by its arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	if args != nil {
		args(out)
	}
	if out.Overflow() {
		return fmt.Errorf("response %d does not fit a scratch buffer", cmdID)
	}
	return t.writeBlock(out.Result())
}

func (t *Transport) writeBlock(payload []byte) error {
	block, err := EncodeFrame(t.sequence(), payload)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.w.Write(block)
	return err
}

// Reset returns the transport to its power-on sequence state
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when a host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

func (t *Transport) sequence() uint8 {
	return uint8(atomic.LoadUint32(&t.nextSequence))
}
