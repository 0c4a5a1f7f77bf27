package adbproto

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/FluidXR/devicewatch/internal/model"
)

// Shell protocol v2 packet ids (§4.2 "Shell protocol v2").
const (
	shellPacketStdin  byte = 0
	shellPacketStdout byte = 1
	shellPacketStderr byte = 2
	shellPacketExit   byte = 3
)

// ExecuteShell runs command on the device selected by opt and returns its
// exit status, stdout, and stderr. When forceV2 is false the client probes
// host:features and uses shell v2 only if the peer advertises shell_v2;
// otherwise (including when the probe itself fails) it falls back to raw
// v1 semantics: read stdout to EOF, report status 0 and empty stderr
// (§4.2).
func (c *Client) ExecuteShell(ctx context.Context, opt model.TransportOption, command string, forceV2 bool) (status byte, stdout, stderr []byte, err error) {
	useV2 := forceV2
	if !useV2 {
		if feats, ferr := c.Features(ctx, opt); ferr == nil && feats["shell_v2"] {
			useV2 = true
		}
	}

	service := "shell:" + command
	if useV2 {
		service = "shell,v2:" + command
	}
	conn, err := c.openTransport(ctx, opt, service)
	if err != nil {
		return 0, nil, nil, err
	}
	defer conn.Close()

	if useV2 {
		return readShellV2(conn)
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		return 0, nil, nil, &ProtocolError{Msg: "shell v1: read stdout", Err: err}
	}
	return 0, raw, nil, nil
}

// readShellV2 drives the shell v2 framed packet stream until an exit
// packet delivers the one-byte status, accumulating stdout/stderr along
// the way (§4.2). A boundary case worth noting: a packet's declared length
// is honored exactly via io.ReadFull, so an oversize single packet (e.g.
// 40960 bytes of stdout in one frame) is delivered intact with no
// splitting artefact at any internal read-buffer boundary.
func readShellV2(conn net.Conn) (status byte, stdout, stderr []byte, err error) {
	for {
		var hdr [5]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return 0, nil, nil, &ProtocolError{Msg: "shell v2: truncated packet header", Err: err}
		}
		id := hdr[0]
		length := binary.LittleEndian.Uint32(hdr[1:5])

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return 0, nil, nil, &ProtocolError{Msg: "shell v2: truncated payload", Err: err}
			}
		}

		switch id {
		case shellPacketStdout:
			stdout = append(stdout, payload...)
		case shellPacketStderr:
			stderr = append(stderr, payload...)
		case shellPacketExit:
			if len(payload) < 1 {
				return 0, stdout, stderr, &ProtocolError{Msg: "shell v2: exit packet missing status"}
			}
			return payload[0], stdout, stderr, nil
		case shellPacketStdin:
			// Not expected inbound; ignore.
		default:
			return 0, nil, nil, &ProtocolError{Msg: fmt.Sprintf("shell v2: unexpected packet id %d", id)}
		}
	}
}

// Remount reproduces the original client's two-level feature probe
// (SPEC_FULL.md §C.4): when the server advertises remount_shell, it runs
// "remount <args>" over the shell service (using shell v2 additionally
// only if shell_v2 is also advertised); otherwise it falls back to the
// plain "remount:<args>" host-style service.
func (c *Client) Remount(ctx context.Context, opt model.TransportOption, args string) error {
	feats, err := c.Features(ctx, opt)
	if err != nil {
		feats = nil
	}

	if feats["remount_shell"] {
		cmd := "remount"
		if args != "" {
			cmd += " " + args
		}
		status, _, stderr, err := c.ExecuteShell(ctx, opt, cmd, feats["shell_v2"])
		if err != nil {
			return err
		}
		if status != 0 {
			return &ProtocolError{Msg: fmt.Sprintf("remount failed: %s", strings.TrimSpace(string(stderr)))}
		}
		return nil
	}

	conn, err := c.openTransport(ctx, opt, "remount:"+args)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Root enables or disables adbd root, via the root:/unroot: services.
func (c *Client) Root(ctx context.Context, opt model.TransportOption, enable bool) error {
	service := "root:"
	if !enable {
		service = "unroot:"
	}
	conn, err := c.openTransport(ctx, opt, service)
	if err != nil {
		return err
	}
	defer conn.Close()
	// adbd restarts and prints a status line; drain it best-effort.
	_, _ = io.Copy(io.Discard, conn)
	return nil
}
