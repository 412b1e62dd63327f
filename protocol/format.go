package protocol

import (
	"fmt"
	"strings"
)

// ParamType is the wire type of one message parameter
type ParamType uint8

const (
	ParamUint32 ParamType = iota // %u
	ParamInt32                   // %i
	ParamUint16                  // %hu
	ParamInt16                   // %hi
	ParamByte                    // %c
	ParamBuffer                  // %*s
	ParamString                  // %s
)

var paramTypes = map[string]ParamType{
	"%u":   ParamUint32,
	"%i":   ParamInt32,
	"%hu":  ParamUint16,
	"%hi":  ParamInt16,
	"%c":   ParamByte,
	"%*s":  ParamBuffer,
	"%.*s": ParamBuffer,
	"%s":   ParamString,
}

func (t ParamType) isBuffer() bool {
	return t == ParamBuffer || t == ParamString
}

// Param is one named message parameter
type Param struct {
	Name string
	Type ParamType
	spec string
}

// MessageFormat describes a command or response as listed in the data
// dictionary, e.g. "pulse_step mask=%c width=%u".
type MessageFormat struct {
	ID     uint16
	Name   string
	Params []Param
}

// ParseFormat parses a dictionary format string
func ParseFormat(id uint16, format string) (*MessageFormat, error) {
	fields := strings.Fields(format)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message format")
	}
	f := &MessageFormat{ID: id, Name: fields[0]}
	for _, field := range fields[1:] {
		name, spec, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%s: malformed parameter %q", f.Name, field)
		}
		typ, ok := paramTypes[spec]
		if !ok {
			return nil, fmt.Errorf("%s: unknown parameter type %q", f.Name, spec)
		}
		f.Params = append(f.Params, Param{Name: name, Type: typ, spec: spec})
	}
	return f, nil
}

// String renders the format back in dictionary form
func (f *MessageFormat) String() string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	for _, p := range f.Params {
		sb.WriteByte(' ')
		sb.WriteString(p.Name)
		sb.WriteByte('=')
		sb.WriteString(p.spec)
	}
	return sb.String()
}

// Encode writes the message ID followed by args, one per parameter in
// order. Integer parameters accept any Go integer type or bool; buffer
// parameters accept []byte or string.
func (f *MessageFormat) Encode(out OutputBuffer, args ...any) error {
	if len(args) != len(f.Params) {
		return fmt.Errorf("%s: got %d arguments, want %d", f.Name, len(args), len(f.Params))
	}
	EncodeVLQUint(out, uint32(f.ID))
	for i, p := range f.Params {
		if p.Type.isBuffer() {
			switch v := args[i].(type) {
			case []byte:
				EncodeVLQBytes(out, v)
			case string:
				EncodeVLQString(out, v)
			default:
				return fmt.Errorf("%s: %s wants bytes, got %T", f.Name, p.Name, args[i])
			}
			continue
		}
		v, err := toInt32(args[i])
		if err != nil {
			return fmt.Errorf("%s: %s: %w", f.Name, p.Name, err)
		}
		EncodeVLQInt(out, v)
	}
	return nil
}

// Decode reads the parameters of a message whose ID was already consumed
func (f *MessageFormat) Decode(data *[]byte) (Params, error) {
	params := Params{name: f.Name, values: make(map[string]int32, len(f.Params))}
	for _, p := range f.Params {
		if p.Type.isBuffer() {
			b, err := DecodeVLQBytes(data)
			if err != nil {
				return params, fmt.Errorf("%s: %s: %w", f.Name, p.Name, err)
			}
			if params.buffers == nil {
				params.buffers = make(map[string][]byte)
			}
			params.buffers[p.Name] = append([]byte(nil), b...)
			continue
		}
		v, err := DecodeVLQInt(data)
		if err != nil {
			return params, fmt.Errorf("%s: %s: %w", f.Name, p.Name, err)
		}
		switch p.Type {
		case ParamByte:
			v = int32(uint8(v))
		case ParamUint16:
			v = int32(uint16(v))
		case ParamInt16:
			v = int32(int16(v))
		}
		params.values[p.Name] = v
	}
	return params, nil
}

// Params holds decoded message parameters
type Params struct {
	name    string
	values  map[string]int32
	buffers map[string][]byte
}

// Name returns the message name
func (p Params) Name() string { return p.name }

// Uint returns an integer parameter as unsigned
func (p Params) Uint(name string) uint32 { return uint32(p.values[name]) }

// Int returns an integer parameter as signed
func (p Params) Int(name string) int32 { return p.values[name] }

// Bytes returns a buffer parameter
func (p Params) Bytes(name string) []byte { return p.buffers[name] }

func toInt32(v any) (int32, error) {
	switch n := v.(type) {
	case int:
		return int32(n), nil
	case int8:
		return int32(n), nil
	case int16:
		return int32(n), nil
	case int32:
		return n, nil
	case int64:
		return int32(n), nil
	case uint:
		return int32(n), nil
	case uint8:
		return int32(n), nil
	case uint16:
		return int32(n), nil
	case uint32:
		return int32(n), nil
	case uint64:
		return int32(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unsupported argument type %T", v)
}
