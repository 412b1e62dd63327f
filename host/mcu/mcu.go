// Package mcu talks to a pulse engine MCU over the framed serial protocol.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"pulsecnc/core"
	"pulsecnc/host/serial"
	"pulsecnc/internal/logging"
	"pulsecnc/protocol"
)

// Bootstrap IDs every MCU assigns before its dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
	maxIdentifyChunks  = 1000
)

var (
	ErrNotIdentified = errors.New("mcu dictionary not loaded")
	ErrUnknown       = errors.New("unknown message")
)

// CommandError is a failure reported by the MCU for one command
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mcu: %s failed: %s", e.Command, e.Message)
}

// MCU is a connection to one microcontroller
type MCU struct {
	transport *protocol.HostTransport
	logger    *slog.Logger

	dict      *core.DictionaryData
	raw       []byte
	commands  map[string]*protocol.MessageFormat
	responses map[string]*protocol.MessageFormat
	byID      map[uint16]*protocol.MessageFormat

	mu      sync.Mutex
	lastErr error

	// exchange serializes command/ACK and query/response round trips
	exchange sync.Mutex

	// QueryTimeout bounds the wait for a response when ctx has no deadline
	QueryTimeout time.Duration
}

// Option configures an MCU
type Option func(*MCU)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *MCU) {
		m.logger = logger
	}
}

// WithAckTimeout sets how long one block may wait for its ACK
func WithAckTimeout(d time.Duration) Option {
	return func(m *MCU) {
		m.transport.AckTimeout = d
	}
}

// New wraps an open connection
func New(port io.ReadWriteCloser, opts ...Option) *MCU {
	m := &MCU{
		transport:    protocol.NewHostTransport(port),
		logger:       logging.NewNop(),
		QueryTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Open opens a serial port and wraps it
func Open(cfg *serial.Config, opts ...Option) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(port, opts...), nil
}

// Close closes the connection
func (m *MCU) Close() error {
	return m.transport.Close()
}

// Identify downloads and parses the data dictionary
func (m *MCU) Identify(ctx context.Context) error {
	var blob bytes.Buffer
	for i := 0; i < maxIdentifyChunks; i++ {
		chunk, err := m.identifyChunk(ctx, uint32(blob.Len()))
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", blob.Len(), err)
		}
		if len(chunk) == 0 {
			break
		}
		blob.Write(chunk)
	}

	dict, err := core.ParseDictionary(blob.Bytes())
	if err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	if err := m.load(dict); err != nil {
		return err
	}
	m.raw = blob.Bytes()
	m.logger.Info("mcu identified",
		"version", dict.Version,
		"commands", len(dict.Commands),
		"responses", len(dict.Responses),
		"bytes", blob.Len())
	return nil
}

func (m *MCU) identifyChunk(ctx context.Context, offset uint32) ([]byte, error) {
	m.exchange.Lock()
	defer m.exchange.Unlock()

	m.transport.DrainResponses()
	err := m.transport.SendCommand(ctx, identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, identifyChunk)
	})
	if err != nil {
		return nil, err
	}

	for {
		payload, err := m.receive(ctx, identifyResponseID)
		if err != nil {
			return nil, err
		}
		respOffset, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, err
		}
		if respOffset != offset {
			// Answer to an earlier request
			continue
		}
		return protocol.DecodeVLQBytes(&payload)
	}
}

func (m *MCU) load(dict *core.DictionaryData) error {
	commands := make(map[string]*protocol.MessageFormat, len(dict.Commands))
	responses := make(map[string]*protocol.MessageFormat, len(dict.Responses))
	byID := make(map[uint16]*protocol.MessageFormat, len(dict.Commands)+len(dict.Responses))

	add := func(into map[string]*protocol.MessageFormat, msg string, id int) error {
		f, err := protocol.ParseFormat(uint16(id), msg)
		if err != nil {
			return err
		}
		into[f.Name] = f
		byID[f.ID] = f
		return nil
	}
	for msg, id := range dict.Commands {
		if err := add(commands, msg, id); err != nil {
			return err
		}
	}
	for msg, id := range dict.Responses {
		if err := add(responses, msg, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = commands
	m.responses = responses
	m.byID = byID
	m.dict = dict
	return nil
}

// Dictionary returns the parsed dictionary, nil before Identify
func (m *MCU) Dictionary() *core.DictionaryData {
	return m.dict
}

// RawDictionary returns the compressed dictionary as downloaded
func (m *MCU) RawDictionary() []byte {
	return m.raw
}

// Constant returns a numeric dictionary constant
func (m *MCU) Constant(name string) (float64, bool) {
	if m.dict == nil {
		return 0, false
	}
	v, ok := m.dict.Config[name].(float64)
	return v, ok
}

// Command returns the format of a command by name
func (m *MCU) Command(name string) (*protocol.MessageFormat, error) {
	if m.dict == nil {
		return nil, ErrNotIdentified
	}
	f, ok := m.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: command %s", ErrUnknown, name)
	}
	return f, nil
}

// Send sends one command and waits for its ACK
func (m *MCU) Send(ctx context.Context, name string, args ...any) error {
	m.exchange.Lock()
	defer m.exchange.Unlock()
	return m.send(ctx, name, args...)
}

func (m *MCU) send(ctx context.Context, name string, args ...any) error {
	f, err := m.Command(name)
	if err != nil {
		return err
	}
	out := protocol.NewScratchOutput()
	if err := f.Encode(out, args...); err != nil {
		return err
	}
	return m.sendPayload(ctx, out.Result())
}

// sendPayload sends an encoded block. The caller holds m.exchange.
func (m *MCU) sendPayload(ctx context.Context, payload []byte) error {
	if err := m.transport.SendPayload(ctx, payload); err != nil {
		return err
	}
	// command_error is handled before the ACK of its block arrives
	return m.takeError()
}

// Query sends a command and returns the parameters of the named response
func (m *MCU) Query(ctx context.Context, name, response string, args ...any) (protocol.Params, error) {
	if m.dict == nil {
		return protocol.Params{}, ErrNotIdentified
	}
	rf, ok := m.responses[response]
	if !ok {
		return protocol.Params{}, fmt.Errorf("%w: response %s", ErrUnknown, response)
	}

	m.exchange.Lock()
	defer m.exchange.Unlock()

	// A stale response from an earlier query must not answer this one
	m.transport.DrainResponses()
	if err := m.send(ctx, name, args...); err != nil {
		return protocol.Params{}, err
	}
	payload, err := m.receive(ctx, rf.ID)
	if err != nil {
		return protocol.Params{}, fmt.Errorf("%s: %w", response, err)
	}
	return rf.Decode(&payload)
}

// receive waits for a response with message ID id and returns its arguments
func (m *MCU) receive(ctx context.Context, id uint16) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.QueryTimeout)
		defer cancel()
	}
	for {
		msg, err := m.transport.ReceiveResponse(ctx)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		if uint16(got) == id {
			return payload, nil
		}
	}
}

// handleResponse runs on the transport reader for every response
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.Lock()
	byID := m.byID
	m.mu.Unlock()

	f, ok := byID[cmdID]
	if !ok || f.Name != "command_error" {
		return nil
	}
	params, err := f.Decode(data)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("command %d", params.Uint("cmd"))
	if cmd, ok := byID[uint16(params.Uint("cmd"))]; ok {
		name = cmd.Name
	}
	cmdErr := &CommandError{Command: name, Message: string(params.Bytes("msg"))}
	m.logger.Warn("mcu command failed", "command", cmdErr.Command, "error", cmdErr.Message)

	m.mu.Lock()
	if m.lastErr == nil {
		m.lastErr = cmdErr
	}
	m.mu.Unlock()
	return nil
}

func (m *MCU) takeError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.lastErr
	m.lastErr = nil
	return err
}

// Batch packs consecutive commands into as few blocks as possible. It is
// safe for concurrent use; blocks go out in the order commands were added.
type Batch struct {
	m *MCU

	mu  sync.Mutex
	buf []byte
	n   int
}

// NewBatch starts an empty batch
func (m *MCU) NewBatch() *Batch {
	return &Batch{m: m}
}

// Add appends a command, sending the pending block first when it would overflow
func (b *Batch) Add(ctx context.Context, name string, args ...any) error {
	f, err := b.m.Command(name)
	if err != nil {
		return err
	}
	out := protocol.NewScratchOutput()
	if err := f.Encode(out, args...); err != nil {
		return err
	}
	encoded := out.Result()

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf)+len(encoded) > protocol.MessagePayloadMax {
		if err := b.flush(ctx); err != nil {
			return err
		}
	}
	b.buf = append(b.buf, encoded...)
	b.n++
	return nil
}

// Pending returns the number of commands not yet sent
func (b *Batch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Flush sends the pending block
func (b *Batch) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush(ctx)
}

// flush sends the pending block while b.mu is held, so a concurrent Add
// cannot overtake it on the wire
func (b *Batch) flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	payload := b.buf
	b.buf = nil
	b.n = 0

	b.m.exchange.Lock()
	defer b.m.exchange.Unlock()
	return b.m.sendPayload(ctx, payload)
}

// Discard drops the pending commands
func (b *Batch) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = nil
	b.n = 0
}
