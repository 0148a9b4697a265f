package gdbremote

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	errBadChecksum = errors.New("gdbremote: packet checksum mismatch")
	errBadRunLen   = errors.New("gdbremote: malformed run-length encoding")
)

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// escapePayload escapes the bytes the framing reserves.
func escapePayload(payload []byte) []byte {
	var out []byte
	for _, c := range payload {
		switch c {
		case '$', '#', '}', '*':
			out = append(out, '}', c^0x20)
		default:
			out = append(out, c)
		}
	}
	return out
}

// encodePacket frames payload as $payload#cs.
func encodePacket(payload []byte) []byte {
	body := escapePayload(payload)
	out := make([]byte, 0, len(body)+4)
	out = append(out, '$')
	out = append(out, body...)
	return fmt.Appendf(out, "#%02x", checksum(body))
}

// readPacket reads the next $...#cs packet from r, skipping acks and any
// noise before the start marker. The returned payload is unescaped and
// run-length expanded.
func readPacket(r *bufio.Reader) ([]byte, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == '$' {
			break
		}
	}

	body, err := r.ReadBytes('#')
	if err != nil {
		return nil, err
	}
	body = body[:len(body)-1]

	var cs [2]byte
	for i := range cs {
		if cs[i], err = r.ReadByte(); err != nil {
			return nil, err
		}
	}
	want, err := strconv.ParseUint(string(cs[:]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("gdbremote: bad checksum %q: %w", cs[:], err)
	}
	if checksum(body) != byte(want) {
		return nil, errBadChecksum
	}
	return decodePayload(body)
}

// decodePayload undoes '}' escapes and expands "c*n" runs, where the
// repeat count is n-29.
func decodePayload(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch c {
		case '}':
			i++
			if i >= len(body) {
				return nil, fmt.Errorf("gdbremote: truncated escape")
			}
			out = append(out, body[i]^0x20)
		case '*':
			i++
			if i >= len(body) || len(out) == 0 {
				return nil, errBadRunLen
			}
			// Counts are printable, skip '$' and '#', and repeat at least 3 times.
			r := body[i]
			if r < ' ' || r > '~' || r == '$' || r == '#' {
				return nil, errBadRunLen
			}
			n := int(r) - 29
			out = append(out, bytes.Repeat(out[len(out)-1:], n)...)
		default:
			out = append(out, c)
		}
	}
	return out, nil
}
