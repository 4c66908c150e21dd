package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// Header opens every trace file.
type Header struct {
	Session string    `cbor:"1,keyasint"`
	Bus     string    `cbor:"2,keyasint"`
	Created time.Time `cbor:"3,keyasint"`
}

// Writer streams events to w as a CBOR sequence: one Header followed by
// one item per event.
type Writer struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	header Header
	err    error
}

// NewWriter writes the header for a new session on bus and returns a Sink
// streaming to w.
func NewWriter(w io.Writer, bus string) (*Writer, error) {
	h := Header{
		Session: uuid.New().String(),
		Bus:     bus,
		Created: time.Now(),
	}
	enc := encMode.NewEncoder(w)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("trace: write header: %w", err)
	}
	return &Writer{enc: enc, header: h}, nil
}

// Header returns the session header written at creation.
func (w *Writer) Header() Header { return w.header }

// Record encodes e. The first encoding failure is kept and reported by Err;
// later events are dropped.
func (w *Writer) Record(e Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if err := w.enc.Encode(e); err != nil {
		w.err = fmt.Errorf("trace: write event: %w", err)
	}
}

// Err reports the first write failure.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Read decodes a trace stream written by Writer.
func Read(r io.Reader) (Header, []Event, error) {
	dec := decMode.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		return Header{}, nil, fmt.Errorf("trace: read header: %w", err)
	}
	if _, err := uuid.Parse(h.Session); err != nil {
		return Header{}, nil, fmt.Errorf("trace: bad session id: %w", err)
	}
	var events []Event
	for {
		var e Event
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return h, events, nil
		}
		if err != nil {
			return h, events, fmt.Errorf("trace: read event %d: %w", len(events), err)
		}
		events = append(events, e)
	}
}
