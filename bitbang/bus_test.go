package bitbang

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"rcpod/bitbang/i2csim"
	"rcpod/gpio"
	"rcpod/logging"
	"rcpod/trace"
)

// newSimBus returns a bus on RB6 (SCL) and RB7 (SDA) of a simulated
// controller.
func newSimBus(t *testing.T, opts ...Option) (*Bus, *i2csim.Wire) {
	t.Helper()
	wire := i2csim.NewWire(gpio.PortB, 6, 7)
	board, err := gpio.NewBoard(wire, gpio.PortB)
	require.NoError(t, err)
	sclPin, err := board.Pin("B", 6)
	require.NoError(t, err)
	sdaPin, err := board.Pin("B", 7)
	require.NoError(t, err)
	scl, err := gpio.NewOpenDrain(sclPin)
	require.NoError(t, err)
	sda, err := gpio.NewOpenDrain(sdaPin)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(logging.NewTestLogger(t))}, opts...)
	bus, err := New(scl, sda, opts...)
	require.NoError(t, err)
	return bus, wire
}

func TestStartStopIsNoOp(t *testing.T) {
	bus, wire := newSimBus(t)
	tgt := i2csim.NewTarget(0x48, i2csim.NewMemory(4))
	wire.Attach(tgt)

	require.NoError(t, bus.Start())
	assert.Equal(t, Started, bus.State())
	require.NoError(t, bus.Stop())
	assert.Equal(t, Idle, bus.State())

	starts, stops := tgt.Conditions()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Empty(t, tgt.Observed())

	scl, sda := wire.Lines()
	assert.Equal(t, gpio.High, scl)
	assert.Equal(t, gpio.High, sda)
}

func TestOutOfSequence(t *testing.T) {
	bus, wire := newSimBus(t)
	pokes, peeks := wire.Stats()

	err := bus.WriteByte(0x90)
	assert.ErrorIs(t, err, ErrInvalidState)
	var ise *InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, Idle, ise.State)

	_, err = bus.ReadByteAck(true)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, bus.Stop(), ErrInvalidState)
	assert.ErrorIs(t, bus.RepeatedStart(), ErrInvalidState)

	p2, k2 := wire.Stats()
	assert.Equal(t, pokes, p2, "rejected calls must not touch the lines")
	assert.Equal(t, peeks, k2)

	require.NoError(t, bus.Start())
	assert.ErrorIs(t, bus.Start(), ErrInvalidState, "nested start needs RepeatedStart")
	require.NoError(t, bus.RepeatedStart())
	require.NoError(t, bus.Stop())
}

func TestBitOrderMSBFirst(t *testing.T) {
	bus, wire := newSimBus(t)
	tgt := i2csim.NewTarget(0x48, i2csim.NewMemory(256))
	wire.Attach(tgt)

	require.NoError(t, bus.Start())
	require.NoError(t, bus.WriteByte(0x48<<1))
	require.NoError(t, bus.WriteByte(0b10110000))
	require.NoError(t, bus.Stop())

	bits := tgt.Bits()
	require.Len(t, bits, 16)
	assert.Equal(t, []bool{true, false, true, true, false, false, false, false}, bits[8:])
	assert.Equal(t, []bool{true, false, false, true, false, false, false, false}, bits[:8])
}

func TestNoAckLeavesBusStarted(t *testing.T) {
	bus, wire := newSimBus(t)
	wire.Attach(i2csim.NewTarget(0x20, i2csim.NewMemory(4)))

	require.NoError(t, bus.Start())
	err := bus.WriteByte(0x48 << 1)
	assert.ErrorIs(t, err, ErrNoAck)
	var nack *NoAckError
	require.True(t, errors.As(err, &nack))
	assert.Equal(t, byte(0x90), nack.Value)
	assert.Equal(t, Started, bus.State())

	require.NoError(t, bus.Stop())
	assert.Equal(t, Idle, bus.State())
}

func TestDataNack(t *testing.T) {
	bus, wire := newSimBus(t)
	wire.Attach(i2csim.NewTarget(0x48, i2csim.NewMemory(4, i2csim.ReadOnly())))

	err := bus.Tx(0x48, []byte{0x00, 0x55}, nil)
	assert.ErrorIs(t, err, ErrNoAck)
	assert.NotErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, Idle, bus.State())
}

func TestTxRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, addr := range []uint16{0x08, 0x2A, 0x48, 0x77} {
		bus, wire := newSimBus(t)
		mem := i2csim.NewMemory(256)
		wire.Attach(i2csim.NewTarget(addr, mem))

		for n := 1; n <= 8; n++ {
			reg := byte(rng.Intn(256))
			data := make([]byte, n)
			rng.Read(data)

			require.NoError(t, bus.Tx(addr, append([]byte{reg}, data...), nil))
			got := make([]byte, n)
			require.NoError(t, bus.Tx(addr, []byte{reg}, got))
			assert.Equal(t, data, got, "addr %#x reg %#x", addr, reg)
		}
		assert.Equal(t, Idle, bus.State())
	}
}

func TestTxEdgeBytes(t *testing.T) {
	bus, wire := newSimBus(t)
	wire.Attach(i2csim.NewTarget(0x50, i2csim.NewMemory(256)))

	data := []byte{0x00, 0xFF, 0x01, 0x80, 0x7F, 0xFE}
	require.NoError(t, bus.Tx(0x50, append([]byte{0x10}, data...), nil))
	got := make([]byte, len(data))
	require.NoError(t, bus.Tx(0x50, []byte{0x10}, got))
	assert.Equal(t, data, got)

	// Current-address read continues after the last byte read.
	next := make([]byte, 1)
	require.NoError(t, bus.Tx(0x50, nil, next))
	assert.Equal(t, byte(0), next[0])
}

func TestTxNoDevice(t *testing.T) {
	bus, _ := newSimBus(t)

	err := bus.Tx(0x48, nil, nil)
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.ErrorIs(t, err, ErrNoAck)
	assert.Equal(t, Idle, bus.State())

	err = bus.Tx(0x48, nil, make([]byte, 1))
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.Contains(t, err.Error(), "read")
}

func TestTxAddressRange(t *testing.T) {
	bus, _ := newSimBus(t)
	assert.ErrorIs(t, bus.Tx(0x80, nil, nil), ErrAddress)
}

func TestTransactionStopsOnError(t *testing.T) {
	bus, wire := newSimBus(t)
	tgt := i2csim.NewTarget(0x48, i2csim.NewMemory(4))
	wire.Attach(tgt)

	boom := errors.New("caller gave up")
	err := bus.Transaction(func(m Master) error {
		if err := m.Start(); err != nil {
			return err
		}
		if err := WriteAddress(m, 0x48, false); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Idle, bus.State())
	_, stops := tgt.Conditions()
	assert.Equal(t, 1, stops)
}

func TestTransactionStopsWhenLeftOpen(t *testing.T) {
	bus, _ := newSimBus(t)
	require.NoError(t, bus.Transaction(func(m Master) error {
		return m.Start()
	}))
	assert.Equal(t, Idle, bus.State())
}

func TestClockStretchTimeout(t *testing.T) {
	bus, wire := newSimBus(t, WithClockStretching(5*time.Millisecond))
	tgt := i2csim.NewTarget(0x48, i2csim.NewMemory(4))
	tgt.HoldClock = true
	wire.Attach(tgt)

	err := bus.Tx(0x48, []byte{0x00, 0x01}, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotEqual(t, Idle, bus.State())

	tgt.ReleaseClock()
	require.NoError(t, bus.Stop())
	assert.Equal(t, Idle, bus.State())
	require.NoError(t, bus.Tx(0x48, []byte{0x00}, nil))
}

func TestHeldClockOnDefaultBus(t *testing.T) {
	bus, wire := newSimBus(t)
	tgt := i2csim.NewTarget(0x48, i2csim.NewMemory(4))
	tgt.HoldClock = true
	wire.Attach(tgt)

	start := time.Now()
	err := bus.Tx(0x48, []byte{0x00, 0x55}, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrNoAck)
	assert.GreaterOrEqual(t, time.Since(start), DefaultStretchTimeout)
	scl, _ := wire.Lines()
	assert.Equal(t, gpio.Low, scl)
	assert.NotEqual(t, Idle, bus.State(), "no STOP reached the wire")

	// The next transaction does not mistake the held clock for a missing device.
	err = bus.Tx(0x48, []byte{0x00}, nil)
	assert.NotErrorIs(t, err, ErrNoDevice)
}

func TestWithoutClockStretching(t *testing.T) {
	bus, wire := newSimBus(t, WithoutClockStretching())
	wire.Attach(i2csim.NewTarget(0x48, i2csim.NewMemory(4)))
	_, peeks := wire.Stats()
	require.NoError(t, bus.Tx(0x48, []byte{0x01, 0x02}, nil))
	_, after := wire.Stats()
	assert.Equal(t, 3, after-peeks, "only the three acknowledge bits are sampled")
}

func TestClockStretchWithoutHold(t *testing.T) {
	bus, wire := newSimBus(t, WithClockStretching(0))
	wire.Attach(i2csim.NewTarget(0x48, i2csim.NewMemory(4)))
	require.NoError(t, bus.Tx(0x48, []byte{0x01, 0x02}, nil))
}

func TestCommunicationError(t *testing.T) {
	bus, wire := newSimBus(t)
	require.NoError(t, bus.Start())

	wire.SetFault(errors.New("usb reset"))
	err := bus.WriteByte(0x90)
	assert.ErrorIs(t, err, gpio.ErrCommunication)
	assert.Equal(t, ByteInProgress, bus.State())

	wire.SetFault(nil)
	require.NoError(t, bus.Stop())
}

func TestTracer(t *testing.T) {
	rec := trace.NewRecorder()
	bus, wire := newSimBus(t, WithTracer(rec))
	mem := i2csim.NewMemory(4)
	mem.Load(0, []byte{0x17})
	wire.Attach(i2csim.NewTarget(0x48, mem))

	r := make([]byte, 1)
	require.NoError(t, bus.Tx(0x48, []byte{0x00}, r))

	var kinds []trace.Kind
	for _, e := range rec.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []trace.Kind{
		trace.KindStart,
		trace.KindWrite,
		trace.KindWrite,
		trace.KindRepeatedStart,
		trace.KindWrite,
		trace.KindRead,
		trace.KindStop,
	}, kinds)
	assert.Equal(t, []byte{0x90, 0x00, 0x91}, rec.Written())
	events := rec.Events()
	assert.Equal(t, byte(0x17), events[5].Value)
	assert.False(t, events[5].Ack)
}

func TestConcurrentTransactionsSerialise(t *testing.T) {
	bus, wire := newSimBus(t)
	a, b := i2csim.NewMemory(16), i2csim.NewMemory(16)
	wire.Attach(i2csim.NewTarget(0x20, a), i2csim.NewTarget(0x21, b))

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(v byte) {
			defer wg.Done()
			errs <- bus.Tx(0x20, []byte{0x00, v, v}, nil)
		}(byte(i))
		go func(v byte) {
			defer wg.Done()
			errs <- bus.Tx(0x21, []byte{0x04, ^v}, nil)
		}(byte(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, a.Bytes()[0], a.Bytes()[1])
	assert.Equal(t, Idle, bus.State())
}

func TestSetSpeed(t *testing.T) {
	bus, wire := newSimBus(t)
	wire.Attach(i2csim.NewTarget(0x48, i2csim.NewMemory(4)))

	var slept []time.Duration
	bus.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, bus.Tx(0x48, []byte{0x00}, nil))
	assert.Empty(t, slept)

	require.NoError(t, bus.SetSpeed(100*physic.KiloHertz))
	require.NoError(t, bus.Tx(0x48, []byte{0x00}, nil))
	require.NotEmpty(t, slept)
	assert.Equal(t, 5*time.Microsecond, slept[0])

	assert.Error(t, bus.SetSpeed(-1))
}

func TestPeriphInterop(t *testing.T) {
	bus, wire := newSimBus(t)
	mem := i2csim.NewMemory(4)
	mem.Load(1, []byte{0xAB})
	wire.Attach(i2csim.NewTarget(0x48, mem))

	rec := &i2ctest.Record{Bus: bus}
	dev := &i2c.Dev{Bus: rec, Addr: 0x48}
	r := make([]byte, 1)
	require.NoError(t, dev.Tx([]byte{0x01}, r))
	assert.Equal(t, byte(0xAB), r[0])
	require.Len(t, rec.Ops, 1)
	assert.Equal(t, uint16(0x48), rec.Ops[0].Addr)
	assert.Equal(t, []byte{0x01}, rec.Ops[0].W)

	assert.Equal(t, "RB6", bus.SCL().Name())
	assert.Equal(t, "RB7", bus.SDA().Name())
	assert.Contains(t, bus.String(), "RB6")
	require.NoError(t, bus.Close())
}

func TestNewRejectsSharedPin(t *testing.T) {
	wire := i2csim.NewWire(gpio.PortB, 6, 7)
	board, err := gpio.NewBoard(wire, gpio.PortB)
	require.NoError(t, err)
	p, err := board.Pin("B", 6)
	require.NoError(t, err)
	od, err := gpio.NewOpenDrain(p)
	require.NoError(t, err)
	_, err = New(od, od)
	assert.Error(t, err)
}

func TestSecondBusOnClaimedPin(t *testing.T) {
	wire := i2csim.NewWire(gpio.PortB, 6, 7)
	board, err := gpio.NewBoard(wire, gpio.PortB)
	require.NoError(t, err)
	line := func(index int) *gpio.OpenDrainPin {
		p, err := board.Pin("B", index)
		require.NoError(t, err)
		od, err := gpio.NewOpenDrain(p)
		require.NoError(t, err)
		return od
	}

	first, err := New(line(6), line(7))
	require.NoError(t, err)

	_, err = New(line(6), line(5))
	assert.ErrorIs(t, err, gpio.ErrClaimed)
	assert.ErrorContains(t, err, "SCL")

	_, err = New(line(4), line(7))
	assert.ErrorIs(t, err, gpio.ErrClaimed)
	assert.ErrorContains(t, err, "SDA")

	// The failed bus must not keep RB4.
	other, err := New(line(4), line(3))
	require.NoError(t, err)
	require.NoError(t, other.Close())

	require.NoError(t, first.Close())
	again, err := New(line(6), line(7))
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}
