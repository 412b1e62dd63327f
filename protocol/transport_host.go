package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrNak             = errors.New("block not acknowledged")
)

// DefaultAckTimeout bounds the wait for an ACK of one block
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler is called from the read loop for every response block
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the protocol: it sends one command
// block at a time, waits for its ACK, and collects responses.
type HostTransport struct {
	port io.ReadWriteCloser

	// Sequence of the next block sent (0x10-0x1F)
	currentSeq uint32

	dec       frameDecoder
	acks      chan Message
	responses chan Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	sendMu sync.Mutex

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once

	// AckTimeout overrides DefaultAckTimeout when non-zero
	AckTimeout time.Duration
	// Retries is how often a NAKed block is sent again
	Retries int
}

// NewHostTransport creates a host-side transport and starts its reader
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:       port,
		currentSeq: MessageDest,
		acks:       make(chan Message, 4),
		responses:  make(chan Message, 64),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		Retries:    2,
	}
	go t.readLoop()
	return t
}

// SendCommand sends one command block and waits for its ACK
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	if args != nil {
		args(out)
	}
	return t.SendPayload(ctx, out.Result())
}

// SendPayload sends an already encoded command payload and waits for its ACK
func (t *HostTransport) SendPayload(ctx context.Context, payload []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	timeout := t.AckTimeout
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	for attempt := 0; ; attempt++ {
		block, err := EncodeFrame(seq, payload)
		if err != nil {
			return fmt.Errorf("failed to build command: %w", err)
		}

		t.drainAcks()
		if _, err := t.port.Write(block); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}

		got, err := t.waitForAck(ctx, seq, timeout)
		if err == nil {
			atomic.StoreUint32(&t.currentSeq, uint32(got))
			return nil
		}
		if !errors.Is(err, ErrNak) || attempt >= t.Retries {
			return err
		}
		// The MCU names the sequence it expects; resend with it
		seq = got
	}
}

// waitForAck returns the sequence carried by the reply to block seq
func (t *HostTransport) waitForAck(ctx context.Context, seq uint8, timeout time.Duration) (uint8, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.acks:
		if ack.Sequence == NextSequence(seq) {
			return ack.Sequence, nil
		}
		return ack.Sequence, fmt.Errorf("%w: sent 0x%02x, MCU expects 0x%02x", ErrNak, seq, ack.Sequence)
	case <-timer.C:
		return 0, fmt.Errorf("ACK timeout after %v", timeout)
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.stopChan:
		return 0, ErrTransportClosed
	}
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

// ReceiveResponse waits for the next response block
func (t *HostTransport) ReceiveResponse(ctx context.Context) (Message, error) {
	select {
	case resp := <-t.responses:
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.stopChan:
		return Message{}, ErrTransportClosed
	}
}

// DrainResponses discards responses received so far
func (t *HostTransport) DrainResponses() {
	for {
		select {
		case <-t.responses:
		default:
			return
		}
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.responseHandler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.dec.write(buf[:n])
			t.processMessages()
		}
		if err == nil {
			continue
		}
		select {
		case <-t.stopChan:
			return
		default:
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
			errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (t *HostTransport) processMessages() {
	for {
		msg, ev := t.dec.next()
		switch ev {
		case decodeNone:
			return
		case decodeResync:
			continue
		}
		if msg.IsAck() {
			offer(t.acks, msg)
			continue
		}

		t.handlerMu.RLock()
		handler := t.responseHandler
		t.handlerMu.RUnlock()
		if handler != nil {
			payload := append([]byte(nil), msg.Payload...)
			if cmdID, err := DecodeVLQUint(&payload); err == nil {
				_ = handler(uint16(cmdID), &payload)
			}
		}
		offer(t.responses, msg)
	}
}

// offer queues msg, dropping the oldest entry when ch is full
func offer(ch chan Message, msg Message) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		err = t.port.Close()
		<-t.doneChan
	})
	return err
}

// Reset restarts the sequence and drops everything received
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	atomic.StoreUint32(&t.currentSeq, MessageDest)
	t.drainAcks()
	t.DrainResponses()
}

// GetCurrentSequence returns the sequence of the next block (for debugging)
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
