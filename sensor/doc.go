// Package sensor talks to the AR013x CMOS image sensor over its 16-bit
// register bus.
//
// Registers are addressed with 16-bit big-endian addresses and hold 16-bit
// big-endian values. A write is a single four-byte message; a read writes
// the two address bytes and reads two value bytes back in one combined
// transaction.
//
// Bring-up is table driven. A [Table] is a list of register writes with
// interleaved delays, played back by [Play] before the first capture:
//
//	model, err := sensor.Detect(bus)
//	table, err := sensor.StartupTable(model)
//	failed, err := sensor.Play(ctx, bus, table)
//
// The startup tables are YAML documents embedded in the binary. A
// replacement table can be loaded with [LoadTable].
package sensor
