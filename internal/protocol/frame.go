package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// MaxFrameSize is the largest frame the length byte can describe.
	MaxFrameSize = 0xFF

	headerSize    = 4
	paramHeader   = 2
	reservedByte  = 0x00
	emptyParamID  = 0x00
	statusParamID = 0x00
)

// Opcode identifies a controller operation. Queries and updates of the same
// feature differ in the 0x4000 bit.
type Opcode uint16

// IsUpdate reports whether the opcode is the mutating variant of a feature.
func (o Opcode) IsUpdate() bool {
	return o&0x4000 != 0
}

func (o Opcode) String() string {
	return fmt.Sprintf("0x%04x", uint16(o))
}

// Param is one TLV entry of a frame.
type Param struct {
	ID    byte
	Value []byte
}

// UintParam builds a parameter holding v as a big-endian integer of width bytes.
func UintParam(id byte, v uint64, width int) Param {
	value := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		value[i] = byte(v)
		v >>= 8
	}
	return Param{ID: id, Value: value}
}

// Uint returns the value interpreted as a big-endian unsigned integer.
func (p Param) Uint() uint64 {
	var v uint64
	for _, b := range p.Value {
		v = v<<8 | uint64(b)
	}
	return v
}

// Frame is a decoded protocol frame.
type Frame struct {
	Opcode Opcode
	Params []Param
}

// Param returns the first parameter with the given id.
func (f Frame) Param(id byte) (Param, bool) {
	for _, p := range f.Params {
		if p.ID == id {
			return p, true
		}
	}
	return Param{}, false
}

// Size returns the encoded length of the frame.
func (f Frame) Size() int {
	if len(f.Params) == 0 {
		return headerSize + paramHeader
	}
	n := headerSize
	for _, p := range f.Params {
		n += paramHeader + len(p.Value)
	}
	return n
}

// Bytes encodes the frame. Decoding the result yields an equal frame, and
// encoding a decoded frame reproduces the original bytes.
func (f Frame) Bytes() ([]byte, error) {
	size := f.Size()
	if size > MaxFrameSize {
		return nil, &EncodingError{Opcode: f.Opcode, Msg: fmt.Sprintf("frame length %d exceeds %d", size, MaxFrameSize)}
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(size), reservedByte, byte(f.Opcode>>8), byte(f.Opcode))
	if len(f.Params) == 0 {
		return append(buf, emptyParamID, 0), nil
	}
	for _, p := range f.Params {
		buf = append(buf, p.ID, byte(len(p.Value)))
		buf = append(buf, p.Value...)
	}
	return buf, nil
}

func (f Frame) String() string {
	var sb strings.Builder
	sb.WriteString(f.Opcode.String())
	for _, p := range f.Params {
		fmt.Fprintf(&sb, " %02x=%s", p.ID, hex.EncodeToString(p.Value))
	}
	return sb.String()
}

// Decode parses one frame from the start of buf and returns it together with
// the number of bytes it occupies.
//
// ErrIncomplete is returned while buf holds only a prefix of a frame; nothing
// is consumed in that case. Errors wrapping ErrInvalid mean the bytes can
// never become a valid frame.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrIncomplete
	}

	size := int(buf[0])
	if size < headerSize+paramHeader {
		return Frame{}, 0, invalidf("length byte %d shorter than minimal frame", size)
	}
	if len(buf) > 1 && buf[1] != reservedByte {
		return Frame{}, 0, invalidf("reserved byte is 0x%02x", buf[1])
	}
	if len(buf) < size {
		return Frame{}, 0, ErrIncomplete
	}

	f := Frame{Opcode: Opcode(buf[2])<<8 | Opcode(buf[3])}
	for pos := headerSize; pos < size; {
		if pos+paramHeader > size {
			return Frame{}, 0, invalidf("truncated parameter header at offset %d", pos)
		}
		id, n := buf[pos], int(buf[pos+1])
		pos += paramHeader
		if pos+n > size {
			return Frame{}, 0, invalidf("parameter 0x%02x overruns frame by %d bytes", id, pos+n-size)
		}
		value := make([]byte, n)
		copy(value, buf[pos:pos+n])
		f.Params = append(f.Params, Param{ID: id, Value: value})
		pos += n
	}
	return f, size, nil
}

// ParseHex decodes a frame written as hex, with or without ':' or ' '
// separators.
func ParseHex(s string) (Frame, error) {
	clean := strings.NewReplacer(":", "", " ", "", "-", "").Replace(s)
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	f, n, err := Decode(buf)
	if err != nil {
		return Frame{}, err
	}
	if n != len(buf) {
		return Frame{}, invalidf("%d trailing bytes", len(buf)-n)
	}
	return f, nil
}

// FormatHex renders bytes as colon separated hex pairs.
func FormatHex(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, ":")
}
