// Package calibration defines the voltage-to-percent mapping of the analog
// tank level sensors. It contains:
//
//   - Channel: the persisted empty/full voltages of a single sensor
//   - Calibration: both tank channels plus bookkeeping timestamps
//
// These types are shared across daemon, client and CLI code to keep the
// JSON contract of /calibration consistent.
package calibration
