// Package protocol implements the BRC1H controller wire format.
//
// A frame is a length-prefixed byte sequence:
//
//	[length][0x00][opcode hi][opcode lo]{[param id][param size][value...]}*
//
// The length byte covers the whole frame, including itself. A frame without
// parameters carries a single empty parameter (0x00 0x00). Values are
// big-endian unsigned integers.
//
// On the air, a frame is split into chunks that each fit one ATT write or
// notification. Every chunk starts with its index; index zero starts a new
// frame. Reassembler turns a stream of chunks back into frames.
//
// Commands are correlated with responses by opcode: the controller answers
// every request with a frame carrying the same opcode.
package protocol
