// Package protocol implements the binary frame protocol spoken by the HIL
// sensor-simulation board.
//
// Every request is eight bytes:
//
//	[0xAA][CMD][CHANNEL][SIGNAL][VALUE_L][VALUE_H][XOR][0x55]
//
// where XOR is the running XOR of the five bytes between the markers. The
// board answers with either a 4-byte acknowledgement or an 8-byte frame in
// one of two layouts (see Shape). Decode checks structure only; Classifier
// verifies checksums and turns a frame into a typed Response.
package protocol
