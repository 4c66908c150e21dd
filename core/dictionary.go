package core

import (
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"rcpod/tinycompress"
)

// Dictionary is the self description a controller serves through the
// identify command: a zlib-wrapped JSON document.
type Dictionary struct {
	mu            sync.Mutex
	registry      *CommandRegistry
	version       string
	buildVersions string
	constants     map[string]string
	cached        []byte
}

type dictionaryJSON struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
}

func NewDictionary(registry *CommandRegistry) *Dictionary {
	return &Dictionary{
		registry:      registry,
		version:       "rcpod-emulator",
		buildVersions: "go",
		constants:     make(map[string]string),
	}
}

func (d *Dictionary) SetVersion(v string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = v
	d.cached = nil
}

func (d *Dictionary) SetBuildVersions(v string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = v
	d.cached = nil
}

// AddConstant publishes value, formatted with fmt, under name.
func (d *Dictionary) AddConstant(name string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = fmt.Sprint(value)
	d.cached = nil
}

// JSON renders the uncompressed document.
func (d *Dictionary) JSON() ([]byte, error) {
	commands, responses := d.registry.Signatures()
	d.mu.Lock()
	doc := dictionaryJSON{
		Version:       d.version,
		BuildVersions: d.buildVersions,
		Config:        make(map[string]string, len(d.constants)),
		Commands:      commands,
		Responses:     responses,
	}
	for k, v := range d.constants {
		doc.Config[k] = v
	}
	d.mu.Unlock()
	return json.Marshal(doc)
}

// Bytes returns the compressed document, building it on first use after
// any change. Registering a command does not count as a change; call
// Invalidate afterwards.
func (d *Dictionary) Bytes() ([]byte, error) {
	d.mu.Lock()
	cached := d.cached
	d.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	raw, err := d.JSON()
	if err != nil {
		return nil, err
	}
	out := tinycompress.Compress(raw)
	d.mu.Lock()
	d.cached = out
	d.mu.Unlock()
	return out, nil
}

// Invalidate forces the next Bytes call to rebuild the document.
func (d *Dictionary) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// Chunk returns up to count bytes of the compressed document starting at
// offset. Reading past the end yields an empty chunk.
func (d *Dictionary) Chunk(offset uint32, count int) ([]byte, error) {
	data, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	if offset >= uint32(len(data)) {
		return nil, nil
	}
	end := int(offset) + count
	if end > len(data) {
		end = len(data)
	}
	return append([]byte(nil), data[offset:end]...), nil
}
