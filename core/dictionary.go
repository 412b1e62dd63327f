package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"sync"
)

// DictionaryVersion identifies the firmware in the data dictionary
const DictionaryVersion = "pulsecnc-0.1.0"

// Dictionary is the data dictionary the host downloads with identify: a
// zlib-compressed JSON document listing commands, responses, constants and
// enumerations, the layout Klipper hosts expect.
type Dictionary struct {
	mu           sync.RWMutex
	constants    map[string]any
	enumerations map[string][]string
	commandReg   *CommandRegistry
	version      string
	buildVersion string
	cached       []byte
}

type dictionaryJSON struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]any            `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewDictionary creates a dictionary over a command registry
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:    make(map[string]any),
		enumerations: make(map[string][]string),
		commandReg:   cmdReg,
		version:      DictionaryVersion,
		buildVersion: "go",
	}
}

// AddConstant adds a constant to the dictionary
func (d *Dictionary) AddConstant(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = value
	d.cached = nil
}

// AddEnumeration adds an enumeration; empty names are skipped but keep their index
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = append([]string(nil), values...)
	d.cached = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

// JSON returns the uncompressed dictionary document
func (d *Dictionary) JSON() ([]byte, error) {
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.RLock()
	defer d.mu.RUnlock()

	doc := dictionaryJSON{
		Version:       d.version,
		BuildVersions: d.buildVersion,
		Config:        make(map[string]any, len(d.constants)),
		Commands:      commands,
		Responses:     responses,
	}
	for name, v := range d.constants {
		doc.Config[name] = v
	}
	if len(d.enumerations) > 0 {
		doc.Enumerations = make(map[string]map[string]int, len(d.enumerations))
		for name, values := range d.enumerations {
			m := make(map[string]int, len(values))
			for i, v := range values {
				if v != "" {
					m[v] = i
				}
			}
			doc.Enumerations[name] = m
		}
	}
	return json.Marshal(doc)
}

// Build compresses and caches the dictionary. Call it after every command
// has been registered.
func (d *Dictionary) Build() error {
	raw, err := d.JSON()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = buf.Bytes()
	return nil
}

// Generate returns the compressed dictionary, building it on first use
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}
	if err := d.Build(); err != nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// GetChunk returns up to count bytes of the compressed dictionary at offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// ParseDictionary decodes a compressed dictionary downloaded from an MCU
func ParseDictionary(compressed []byte) (*DictionaryData, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var doc dictionaryJSON
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	return &DictionaryData{
		Version:      doc.Version,
		Config:       doc.Config,
		Commands:     doc.Commands,
		Responses:    doc.Responses,
		Enumerations: doc.Enumerations,
	}, nil
}

// DictionaryData is a decoded data dictionary
type DictionaryData struct {
	Version      string
	Config       map[string]any
	Commands     map[string]int
	Responses    map[string]int
	Enumerations map[string]map[string]int
}
