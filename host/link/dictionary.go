package link

import (
	"bytes"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Dictionary is the controller's self description, retrieved with the
// identify command.
type Dictionary struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
}

// Message is a command or response resolved from the dictionary.
type Message struct {
	ID     uint16
	Name   string
	Format string
}

// ParseDictionary decodes raw identify data, inflating it first when it
// carries a zlib header.
func ParseDictionary(raw []byte) (*Dictionary, error) {
	data := raw
	if len(raw) >= 2 && raw[0] == 0x78 && (uint16(raw[0])<<8|uint16(raw[1]))%31 == 0 {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "open compressed dictionary")
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, errors.Wrap(err, "inflate dictionary")
		}
	}
	var d Dictionary
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, "decode dictionary")
	}
	return &d, nil
}

// Command looks up a host-to-controller command by name.
func (d *Dictionary) Command(name string) (Message, bool) {
	return lookup(d.Commands, name)
}

// Response looks up a controller-to-host message by name.
func (d *Dictionary) Response(name string) (Message, bool) {
	return lookup(d.Responses, name)
}

func lookup(set map[string]int, name string) (Message, bool) {
	for format, id := range set {
		n, args, _ := strings.Cut(format, " ")
		if n == name {
			return Message{ID: uint16(id), Name: n, Format: args}, true
		}
	}
	return Message{}, false
}
