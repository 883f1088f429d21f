// Package extradata encodes and decodes the title/thumbnail frame stored
// after a snapshot's VM-state record.
//
// Frame wire format (host byte order, no endianness conversion):
//
//	[magic:4 0x78656d75][payloadSize:4]
//	[titleLen:8][title:titleLen]                       UTF-8, NUL-terminated
//	[width:4][height:4][format:4][type:4][byteSize:8]  optional thumbnail header
//	[pixels:byteSize]                                  optional thumbnail pixels
//
// Where:
//   - payloadSize counts every byte after the 8-byte header
//   - the thumbnail is present only when payloadSize extends past the title
//
// Decoding never consumes bytes that do not belong to a recognised frame:
// the header is peeked and only committed when the magic matches, and all
// further reads are bounded by the declared payload size. A frame that is
// shorter than its declaration, or written by an older codec, decodes
// field by field; fields that could not be read are reported absent.
package extradata
