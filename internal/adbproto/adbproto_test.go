package adbproto

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/FluidXR/devicewatch/internal/model"
)

// pipeClient returns a Client whose Dialer hands back one end of an
// in-memory net.Pipe per call, feeding the other end to serve (run on its
// own goroutine). This is the "fake ADB server" tool SPEC_FULL.md §A.4
// commits to: no real network or real adbd involved.
func pipeClient(t *testing.T, serve func(net.Conn)) *Client {
	t.Helper()
	return &Client{
		Dialer: func(ctx context.Context, addr string) (net.Conn, error) {
			client, server := net.Pipe()
			go serve(server)
			return client, nil
		},
	}
}

func writeFramed(t *testing.T, w io.Writer, service string) {
	t.Helper()
	if _, err := fmt.Fprintf(w, "%04x%s", len(service), service); err != nil {
		t.Fatalf("write framed: %v", err)
	}
}

func readExactService(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		t.Fatalf("read service length: %v", err)
	}
	n, err := parseHex4(lenBuf)
	if err != nil {
		t.Fatalf("parse hex length: %v", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read service: %v", err)
	}
	return string(buf)
}

func TestListDevices(t *testing.T) {
	c := pipeClient(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		svc := readExactService(t, r)
		if svc != "host:devices-l" {
			t.Errorf("unexpected service %q", svc)
			return
		}
		conn.Write([]byte("OKAY"))
		body := "HT12345\tdevice\tproduct:sargo model:Pixel device:sargo transport_id:1\n"
		fmt.Fprintf(conn, "%04x%s", len(body), body)
	})

	devices, err := c.ListDevices(context.Background(), true, "", false)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	d := devices[0]
	if d.Serial != "HT12345" || d.Model != "Pixel" || d.Device != "sargo" || d.TransportID != 1 {
		t.Fatalf("unexpected device: %+v", d)
	}
}

func TestListDevicesConnectionRefusedSwallowed(t *testing.T) {
	c := &Client{Dialer: func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}}
	devices, err := c.ListDevices(context.Background(), true, "", false)
	if err != nil {
		t.Fatalf("expected swallowed error, got %v", err)
	}
	if devices != nil {
		t.Fatalf("expected nil devices, got %v", devices)
	}
}

func TestSelectTransportAndShellV2(t *testing.T) {
	c := pipeClient(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)

		svc := readExactService(t, r)
		if svc != "host:tport:serial:HT12345" {
			t.Errorf("unexpected transport selector %q", svc)
			return
		}
		conn.Write([]byte("OKAY"))
		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], 7)
		conn.Write(idBuf[:])

		svc = readExactService(t, r)
		if svc != "shell,v2:echo hi" {
			t.Errorf("unexpected shell service %q", svc)
			return
		}
		conn.Write([]byte("OKAY"))

		// stdout packet: exactly 40960 bytes in one frame.
		payload := make([]byte, 40960)
		for i := range payload {
			payload[i] = 'x'
		}
		var hdr [5]byte
		hdr[0] = shellPacketStdout
		binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(payload)))
		conn.Write(hdr[:])
		conn.Write(payload)

		// exit packet.
		hdr[0] = shellPacketExit
		binary.LittleEndian.PutUint32(hdr[1:5], 1)
		conn.Write(hdr[:])
		conn.Write([]byte{0})
	})

	opt := model.TransportOption{Serial: "HT12345"}
	status, stdout, stderr, err := c.ExecuteShell(context.Background(), opt, "echo hi", true)
	if err != nil {
		t.Fatalf("ExecuteShell: %v", err)
	}
	if status != 0 {
		t.Fatalf("status = %d, want 0", status)
	}
	if len(stdout) != 40960 {
		t.Fatalf("stdout len = %d, want 40960 (no split at a read-buffer boundary)", len(stdout))
	}
	if len(stderr) != 0 {
		t.Fatalf("stderr len = %d, want 0", len(stderr))
	}
}

func TestCommandTimeout(t *testing.T) {
	c := pipeClient(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		readExactService(t, r) // transport selector; never reply, let it hang.
		time.Sleep(time.Second)
	})

	opt := model.TransportOption{TransportType: model.TransportAny}
	err := c.Command(context.Background(), opt, "reboot", "", 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var te *TimeoutError
	if !asTimeoutError(err, &te) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
}

func asTimeoutError(err error, target **TimeoutError) bool {
	te, ok := err.(*TimeoutError)
	if ok {
		*target = te
	}
	return ok
}
