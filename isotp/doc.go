// Package isotp implements the ISO 15765-2 ("CAN-TP") transport protocol:
// segmentation, reassembly, and flow-controlled delivery of variable-length
// payloads over a Controller Area Network bus whose native frames carry at
// most 8 bytes (classical CAN) or 64 bytes (CAN FD).
//
// The package is organized leaf-first:
//   - Address encodes one of the seven ISO addressing variants.
//   - Timer is a monotonic elapsed-time gate.
//   - PDU and the Encode/Decode functions implement the frame codec.
//   - Transport owns the reception and transmission state machines and is
//     driven by repeated calls to Process.
//
// Transport is single-threaded and cooperative: it owns no goroutines of its
// own. Callers drive it by calling Process periodically, typically sleeping
// SleepTime between calls. The injected receive function must be
// non-blocking.
package isotp
