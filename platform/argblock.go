package platform

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

const argcSize = 4

// ArgBlock is a decoded kern.procargs2 buffer.
type ArgBlock struct {
	Argc      uint32   // declared argument count
	Args      []string // recovered arguments, invalid text removed
	Dropped   int      // arguments skipped because they were not valid UTF-8
	Truncated bool     // the buffer ended before Argc strings were found
}

// DecodeArgBlock parses a raw argument block: a native-endian uint32 argc,
// the NUL-terminated executable path, NUL padding, then argc NUL-terminated
// strings. Padding follows the path only; an empty argument is a lone NUL.
// It never reads past len(buf). A short buffer yields the strings recovered
// so far, including an unterminated final one, with Truncated set. Only a
// buffer too small to hold argc is an error.
func DecodeArgBlock(buf []byte) (ArgBlock, error) {
	if len(buf) < argcSize {
		return ArgBlock{}, fmt.Errorf("arg block too short: %d bytes", len(buf))
	}

	block := ArgBlock{Argc: binary.NativeEndian.Uint32(buf[:argcSize])}
	pos := argcSize

	// executable path, discarded
	end := bytes.IndexByte(buf[pos:], 0)
	if end < 0 {
		block.Truncated = block.Argc > 0
		return block, nil
	}
	pos = skipNULs(buf, pos+end+1)

	capHint := (len(buf) - pos) / 2
	if uint64(block.Argc) < uint64(capHint) {
		capHint = int(block.Argc)
	}
	block.Args = make([]string, 0, capHint)

	for i := uint32(0); i < block.Argc; i++ {
		if pos >= len(buf) {
			block.Truncated = true
			break
		}
		end := bytes.IndexByte(buf[pos:], 0)
		if end < 0 {
			// unterminated tail, kept as the last argument
			block.appendArg(buf[pos:])
			block.Truncated = true
			break
		}

		block.appendArg(buf[pos : pos+end])
		pos += end + 1
	}

	return block, nil
}

func (b *ArgBlock) appendArg(raw []byte) {
	if utf8.Valid(raw) {
		b.Args = append(b.Args, string(raw))
	} else {
		b.Dropped++
	}
}

func skipNULs(buf []byte, pos int) int {
	for pos < len(buf) && buf[pos] == 0 {
		pos++
	}
	return pos
}
