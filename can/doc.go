// Package can provides core types and utilities for working with a
// Controller Area Network (CAN) bus in Go.
//
// It includes:
//   - A Frame type describing one classical CAN or CAN FD frame
//   - A Bus interface that hides the concrete transport (loopback,
//     SocketCAN, a serial SLCAN adapter, ...)
//   - An in-memory loopback bus for tests and simulations
//   - A Linux SocketCAN driver and a serial SLCAN driver
//   - Composable frame filters and a fan-out multiplexer
package can
