package adbproto

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/FluidXR/devicewatch/internal/model"
)

// fakeSyncServer drives the transport-selector + "host:features" probe +
// "sync:" preamble common to every Pull/Push call, then hands off to
// onSync to speak the sync subprotocol itself. Features are reported
// empty, forcing the v1 code paths under test.
func fakeSyncServer(t *testing.T, onSync func(r *bufio.Reader, w io.Writer)) func(net.Conn) {
	t.Helper()
	return func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)

		readExactService(t, r) // transport selector
		conn.Write([]byte("OKAY"))
		var idBuf [8]byte
		binary.LittleEndian.PutUint64(idBuf[:], 1)
		conn.Write(idBuf[:])

		svc := readExactService(t, r)
		switch svc {
		case "host:features":
			conn.Write([]byte("OKAY"))
			conn.Write([]byte("0000"))
			return
		case "sync:":
			conn.Write([]byte("OKAY"))
			onSync(r, conn)
		}
	}
}

func readSyncReq(t *testing.T, r *bufio.Reader) (id string, payload []byte) {
	t.Helper()
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		t.Fatalf("read sync header: %v", err)
	}
	id = string(hdr[0:4])
	if id == syncDONE {
		// DONE's second field is the mtime, not a payload length — it
		// carries no trailing bytes.
		return id, nil
	}
	n := binary.LittleEndian.Uint32(hdr[4:8])
	payload = make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			t.Fatalf("read sync payload: %v", err)
		}
	}
	return id, payload
}

func writeSyncResp(t *testing.T, w io.Writer, id string, field uint32, payload []byte) {
	t.Helper()
	var hdr [8]byte
	copy(hdr[0:4], id)
	binary.LittleEndian.PutUint32(hdr[4:8], field)
	if _, err := w.Write(hdr[:]); err != nil {
		t.Fatalf("write sync header: %v", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("write sync payload: %v", err)
		}
	}
}

func TestPullSingleFile(t *testing.T) {
	want := []byte("hello from the device, repeated enough to be a real chunk of data")
	dir := t.TempDir()
	localPath := filepath.Join(dir, "pulled.txt")

	c := pipeClient(t, fakeSyncServer(t, func(r *bufio.Reader, w io.Writer) {
		id, path := readSyncReq(t, r)
		if id != syncSTAT || string(path) != "/sdcard/file.txt" {
			t.Errorf("unexpected stat request %q %q", id, path)
			return
		}
		// STAT v1 response: id + mode(field) then size(4) + mtime(4).
		var rest [8]byte
		binary.LittleEndian.PutUint32(rest[0:4], uint32(len(want)))
		binary.LittleEndian.PutUint32(rest[4:8], 1700000000)
		writeSyncResp(t, w, syncSTAT, 0o100644, rest[:])

		id, path = readSyncReq(t, r)
		if id != syncRECV || string(path) != "/sdcard/file.txt" {
			t.Errorf("unexpected recv request %q %q", id, path)
			return
		}
		writeSyncResp(t, w, syncDATA, uint32(len(want)), want)
		writeSyncResp(t, w, syncDONE, 0, nil)
	}))

	opt := model.TransportOption{}
	if err := c.Pull(context.Background(), opt, "/sdcard/file.txt", localPath); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	got, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("read pulled file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("pulled content mismatch: got %q, want %q", got, want)
	}
}

func TestPushSmallFileCoalesced(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 65535) // < 64 KiB: coalesced path.
	dir := t.TempDir()
	localPath := filepath.Join(dir, "to_push.bin")
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	var gotHeader []byte
	var gotData []byte
	var sawDone bool

	c := pipeClient(t, fakeSyncServer(t, func(r *bufio.Reader, w io.Writer) {
		id, payload := readSyncReq(t, r)
		if id != syncSEND {
			t.Errorf("expected SEND, got %q", id)
			return
		}
		gotHeader = payload

		id, payload = readSyncReq(t, r)
		if id != syncDATA {
			t.Errorf("expected DATA, got %q", id)
			return
		}
		gotData = payload

		id, _ = readSyncReq(t, r)
		if id != syncDONE {
			t.Errorf("expected DONE, got %q", id)
			return
		}
		sawDone = true
		writeSyncResp(t, w, syncOKAY, 0, nil)
	}))

	opt := model.TransportOption{}
	if err := c.Push(context.Background(), opt, localPath, "/sdcard/to_push.bin"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !sawDone {
		t.Fatal("server never saw DONE")
	}
	if string(gotHeader) != "/sdcard/to_push.bin,644" {
		t.Fatalf("unexpected SEND header %q", gotHeader)
	}
	if !bytes.Equal(gotData, data) {
		t.Fatal("pushed data mismatch")
	}
}

