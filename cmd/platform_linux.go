//go:build linux

package cmd

import (
	"github.com/FluidXR/devicewatch/internal/model"
	"github.com/FluidXR/devicewatch/internal/usbsource"
	usbsourcelinux "github.com/FluidXR/devicewatch/internal/usbsource/linux"
)

// init registers the netlink-uevent-backed Linux source, configured from
// the embedder's WatchSettings (§4.3's expected-tty mechanism), as the
// package's OS source factory.
func init() {
	usbsource.RegisterOSSourceFactory(func(settings model.WatchSettings) (usbsource.Source, error) {
		return usbsourcelinux.New(usbsourcelinux.Options{
			UsbserialVidPid: settings.UsbserialVidPid,
			AllowModprobe:   settings.AllowModprobe,
		}), nil
	})
}
