package adbproto

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/FluidXR/devicewatch/internal/model"
)

// Kill sends host:kill, asking the server to shut itself down.
func (c *Client) Kill(ctx context.Context) error {
	conn, err := c.dial(ctx, false)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := writeRequest(conn, "host:kill"); err != nil {
		return err
	}
	return readStatus(conn)
}

// Query issues a pure host-level query (no transport switch) and returns
// its framed string response. Per §7, when launchServerIfNeed is false a
// ConnectionError is swallowed and an empty result returned rather than
// propagated — Query is one of the two "pure query" entry points spec.md
// §7 calls out.
func (c *Client) Query(ctx context.Context, service string, launchServerIfNeed bool) (string, error) {
	conn, err := c.dial(ctx, launchServerIfNeed)
	if err != nil {
		if !launchServerIfNeed && isConnectionError(err) {
			return "", nil
		}
		return "", err
	}
	defer conn.Close()
	if err := writeRequest(conn, service); err != nil {
		return "", err
	}
	if err := readStatus(conn); err != nil {
		return "", err
	}
	return readFramedString(conn, maxHostResponsePayload)
}

// Command performs transport selection then sends "<command>[:<option>]",
// waiting only for the status reply. timeout, when positive, arms a
// watchdog that closes the socket on expiry (§4.2 "Timeouts"): "a second
// fiber watches a timer; on expiry it closes the socket, causing the
// awaiting read to fail, which the caller translates to a command
// timeout."
func (c *Client) Command(ctx context.Context, opt model.TransportOption, command, option string, timeout time.Duration) error {
	conn, err := c.dial(ctx, opt.LaunchServerIfNeed)
	if err != nil {
		return err
	}
	defer conn.Close()

	var timedOut atomic.Bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			conn.Close()
		})
		defer timer.Stop()
	}

	if _, err := c.selectTransport(conn, opt); err != nil {
		return translateTimeout(err, &timedOut)
	}
	service := command
	if option != "" {
		service += ":" + option
	}
	if err := writeRequest(conn, service); err != nil {
		return translateTimeout(err, &timedOut)
	}
	if err := readStatus(conn); err != nil {
		return translateTimeout(err, &timedOut)
	}
	return nil
}

// HostConnect issues host:connect:<addr> as a pure host service, with no
// transport selector in front of it — unlike Command, which always selects
// a transport first and is therefore wrong for host-level-only services
// (§6 CLI surface: IPList entries are "issued as host:connect:<entry>
// commands to the ADB server", the same thing a bare `adb connect` does).
// The returned string is the server's human-readable "connected to ..." /
// "already connected to ..." message; timeout is honored via the same
// watchdog Command uses.
func (c *Client) HostConnect(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	conn, err := c.dial(ctx, true)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	var timedOut atomic.Bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			conn.Close()
		})
		defer timer.Stop()
	}

	if err := writeRequest(conn, "host:connect:"+addr); err != nil {
		return "", translateTimeout(err, &timedOut)
	}
	if err := readStatus(conn); err != nil {
		return "", translateTimeout(err, &timedOut)
	}
	msg, err := readFramedString(conn, maxHostResponsePayload)
	if err != nil {
		return "", translateTimeout(err, &timedOut)
	}
	return msg, nil
}

func translateTimeout(err error, timedOut *atomic.Bool) error {
	if err != nil && timedOut.Load() {
		return &TimeoutError{Err: err}
	}
	return err
}

// CommandQuery is Command's sibling for services that respond with a
// single framed string after the status (§4.2).
func (c *Client) CommandQuery(ctx context.Context, opt model.TransportOption, command, option string) (string, error) {
	service := command
	if option != "" {
		service += ":" + option
	}
	conn, err := c.openTransport(ctx, opt, service)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return readFramedString(conn, maxHostResponsePayload)
}

// CommandConnect is Command's sibling for services whose response is a raw
// byte stream read until EOF (§4.2). The caller owns the returned
// ReadCloser and must close it.
func (c *Client) CommandConnect(ctx context.Context, opt model.TransportOption, command, option string) (io.ReadCloser, error) {
	service := command
	if option != "" {
		service += ":" + option
	}
	return c.openTransport(ctx, opt, service)
}

// ListDevices lists devices known to the ADB server via host:devices-l
// (§4.2, §4.5). Per §7, when launchServerIfNeed is false a ConnectionError
// is swallowed into an empty, nil-error result — the second "pure query"
// entry point.
func (c *Client) ListDevices(ctx context.Context, deviceOnly bool, targetSerial string, launchServerIfNeed bool) ([]model.DeviceInfo, error) {
	conn, err := c.dial(ctx, launchServerIfNeed)
	if err != nil {
		if !launchServerIfNeed && isConnectionError(err) {
			return nil, nil
		}
		return nil, err
	}
	defer conn.Close()
	if err := writeRequest(conn, "host:devices-l"); err != nil {
		return nil, err
	}
	if err := readStatus(conn); err != nil {
		return nil, err
	}
	body, err := readFramedString(conn, maxHostResponsePayload)
	if err != nil {
		return nil, err
	}

	devices := parseDeviceList(body)
	if !deviceOnly && targetSerial == "" {
		return devices, nil
	}
	out := devices[:0]
	for _, d := range devices {
		if deviceOnly && d.State != "device" {
			continue
		}
		if targetSerial != "" && d.Serial != targetSerial {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// parseDeviceList parses the multi-line body of a host:devices-l response.
// Each line is "<serial>\t<state>\tkey:value...", following the real ADB
// server's "devices -l" layout.
func parseDeviceList(body string) []model.DeviceInfo {
	var devices []model.DeviceInfo
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		info := model.DeviceInfo{Serial: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			k, v, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch k {
			case "product":
				info.Product = v
			case "model":
				info.Model = v
			case "device":
				info.Device = v
			case "transport_id":
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					info.TransportID = n
				}
			}
		}
		devices = append(devices, info)
	}
	return devices
}

// Features returns the server-advertised feature set for the transport
// selected by opt, as a set (§4.2, §6 "ADB wire protocol compatibility").
func (c *Client) Features(ctx context.Context, opt model.TransportOption) (map[string]bool, error) {
	s, err := c.CommandQuery(ctx, opt, "host:features", "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out[f] = true
		}
	}
	return out, nil
}

// WaitDevice blocks until a device of transportType reaches state (e.g.
// "device", "recovery", "sideload", "disconnect"), honoring an optional
// timeout the same way Command does (§4.2 "wait_device").
func (c *Client) WaitDevice(ctx context.Context, opt model.TransportOption, state string, timeout time.Duration) error {
	conn, err := c.dial(ctx, opt.LaunchServerIfNeed)
	if err != nil {
		return err
	}
	defer conn.Close()

	var timedOut atomic.Bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			conn.Close()
		})
		defer timer.Stop()
	}

	service := fmt.Sprintf("host:wait-for-%s-%s", opt.TransportType.String(), state)
	if err := writeRequest(conn, service); err != nil {
		return translateTimeout(err, &timedOut)
	}
	if err := readStatus(conn); err != nil {
		return translateTimeout(err, &timedOut)
	}
	return nil
}

