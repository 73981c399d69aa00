package hardware

import "fmt"

// ActuatorError reports a failed write to the relay board.
type ActuatorError struct {
	Device string // "pump", "zone-3", "hose-gun"
	Err    error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s: %v", e.Device, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// CommError reports a failed transaction with a sensor on the bus.
type CommError struct {
	Device string // "soil-5", "adc-1"
	Err    error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("comm %s: %v", e.Device, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }
