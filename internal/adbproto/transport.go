package adbproto

import (
	"fmt"
	"net"

	"github.com/FluidXR/devicewatch/internal/model"
)

// selectTransport performs the transport-switching sequence described in
// §4.2: for any non-host service, the client sends a transport selector
// immediately after connecting, reads its OKAY, and — unless a transport
// id was already supplied — reads the resulting 8-byte little-endian
// transport id.
func (c *Client) selectTransport(conn net.Conn, opt model.TransportOption) (int64, error) {
	var selector string
	haveID := opt.TransportID != nil

	switch {
	case haveID:
		selector = fmt.Sprintf("host:transport-id:%d", *opt.TransportID)
	case opt.Serial != "":
		selector = fmt.Sprintf("host:tport:serial:%s", opt.Serial)
	default:
		selector = fmt.Sprintf("host:tport:%s", opt.TransportType.String())
	}

	if err := writeRequest(conn, selector); err != nil {
		return 0, err
	}
	if err := readStatus(conn); err != nil {
		// A refused or failed transport selector is a connection error.
		return 0, &ConnectionError{Err: err}
	}
	if haveID {
		return *opt.TransportID, nil
	}
	return readTransportID(conn)
}
