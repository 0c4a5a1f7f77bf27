// Package adbproto is the ADB host-service wire-protocol client (spec §4.2,
// component B): host framing, transport switching, the shell v2 protocol,
// and the sync (file-transfer) subprotocol. No repo in the retrieval pack
// implements this wire protocol directly — every ADB integration retrieved
// shells out to the `adb` binary — so this package is grounded in spec.md
// §4.2 itself and in the transport-selector vocabulary confirmed by
// other_examples/D1CED-adb__devicedescriptor.go.
package adbproto

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// maxRequestPayload bounds a host-service request's service string
	// (§4.2: "at most 1024 bytes after the prefix").
	maxRequestPayload = 1024

	// maxHostResponsePayload bounds any single framed host-service
	// response (SPEC_FULL.md §C.5, ported from the original's
	// MAX_PAYLOAD = 1024*1024, to bound memory against a misbehaving
	// server; spec.md documents only the request-side ceiling).
	maxHostResponsePayload = 1024 * 1024
)

// writeRequest sends a 4-hex-digit length prefix followed by service,
// exactly as described in §4.2 "Host-service framing".
func writeRequest(conn net.Conn, service string) error {
	if len(service) > maxRequestPayload {
		return &ProtocolError{Msg: fmt.Sprintf("service string too long: %d bytes", len(service))}
	}
	header := fmt.Sprintf("%04x%s", len(service), service)
	_, err := conn.Write([]byte(header))
	if err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

// readStatus reads the 4-byte OKAY/FAIL status every response begins with.
// On FAIL it reads the length-prefixed error message and returns it as a
// ProtocolError.
func readStatus(conn net.Conn) error {
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return &ProtocolError{Msg: "read status", Err: err}
	}
	switch string(buf[:]) {
	case "OKAY":
		return nil
	case "FAIL":
		msg, err := readFramedString(conn, maxHostResponsePayload)
		if err != nil {
			return err
		}
		return &ProtocolError{Msg: msg}
	default:
		return &ProtocolError{Msg: fmt.Sprintf("unexpected status %q", buf[:])}
	}
}

// readFramedString reads a 4-hex-digit length prefix followed by that many
// bytes, rejecting anything over max.
func readFramedString(conn net.Conn, max int) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return "", &ProtocolError{Msg: "read length prefix", Err: err}
	}
	n, err := parseHex4(lenBuf)
	if err != nil {
		return "", &ProtocolError{Msg: "bad length prefix", Err: err}
	}
	if n > max {
		return "", &ProtocolError{Msg: fmt.Sprintf("oversize payload: %d bytes", n)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return "", &ProtocolError{Msg: "truncated payload", Err: err}
	}
	return string(buf), nil
}

func parseHex4(b [4]byte) (int, error) {
	n := 0
	for _, c := range b {
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'a' && c <= 'f':
			v = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v = int(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
		n = n<<4 | v
	}
	return n, nil
}

// readTransportID reads the 8-byte little-endian transport id sent after a
// transport selector's OKAY, when the caller didn't already supply one
// (§4.2 "Transport switching").
func readTransportID(conn net.Conn) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, &ProtocolError{Msg: "read transport id", Err: err}
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
