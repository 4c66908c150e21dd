package gpio

// OpenDrainPin emulates an open-drain output on a push-pull pin: the latch
// is held low, and the line is driven by flipping direction. An output pulls
// the line low; an input releases it to the external pull-up.
type OpenDrainPin struct {
	pin *Pin
}

// NewOpenDrain clears the latch of p and releases the line.
func NewOpenDrain(p *Pin) (*OpenDrainPin, error) {
	if err := p.board.setLatch(p, Low); err != nil {
		return nil, err
	}
	if err := p.SetDirection(Input); err != nil {
		return nil, err
	}
	return &OpenDrainPin{pin: p}, nil
}

func (o *OpenDrainPin) String() string { return o.pin.String() }

// Pin returns the underlying pin.
func (o *OpenDrainPin) Pin() *Pin { return o.pin }

// Released reports whether the line is left to the pull-up.
func (o *OpenDrainPin) Released() bool {
	return o.pin.Direction() == Input
}

// Release lets the line float high.
func (o *OpenDrainPin) Release() error {
	if o.Released() {
		return nil
	}
	return o.pin.SetDirection(Input)
}

// PullLow actively drives the line low.
func (o *OpenDrainPin) PullLow() error {
	if o.pin.Level() != Low {
		if err := o.pin.board.setLatch(o.pin, Low); err != nil {
			return err
		}
	}
	if !o.Released() {
		return nil
	}
	return o.pin.SetDirection(Output)
}

// Drive releases the line for High and pulls it for Low.
func (o *OpenDrainPin) Drive(l Level) error {
	if l == High {
		return o.Release()
	}
	return o.PullLow()
}

// Read samples the line. While pulling low it reports Low without a peek.
func (o *OpenDrainPin) Read() (Level, error) {
	return o.pin.Test()
}
