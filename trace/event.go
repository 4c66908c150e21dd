// Package trace captures the logical activity of a software I2C bus: start
// and stop conditions, bytes moved and acknowledge bits. Traces are kept in
// memory or streamed to CBOR files that the CLI can replay.
package trace

import (
	"fmt"
	"time"
)

// Kind classifies a bus event.
type Kind uint8

const (
	KindStart         Kind = 1
	KindRepeatedStart Kind = 2
	KindStop          Kind = 3
	KindWrite         Kind = 4 // byte shifted out by the master
	KindRead          Kind = 5 // byte shifted in by the master
	KindTimeout       Kind = 6
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "START"
	case KindRepeatedStart:
		return "RESTART"
	case KindStop:
		return "STOP"
	case KindWrite:
		return "WRITE"
	case KindRead:
		return "READ"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Event is one bus event. For KindWrite Ack reports whether the target
// acknowledged; for KindRead it reports whether the master did.
type Event struct {
	Time  time.Time `cbor:"1,keyasint"`
	Kind  Kind      `cbor:"2,keyasint"`
	Value byte      `cbor:"3,keyasint,omitempty"`
	Ack   bool      `cbor:"4,keyasint,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case KindWrite, KindRead:
		ack := "NACK"
		if e.Ack {
			ack = "ACK"
		}
		return fmt.Sprintf("%s 0x%02x %s", e.Kind, e.Value, ack)
	default:
		return e.Kind.String()
	}
}

// Sink receives bus events as they happen.
type Sink interface {
	Record(e Event)
}

// Nop discards every event.
var Nop Sink = nopSink{}

type nopSink struct{}

func (nopSink) Record(Event) {}

// Tee fans events out to several sinks.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Record(e Event) {
	for _, s := range t {
		s.Record(e)
	}
}
