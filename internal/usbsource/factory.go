package usbsource

import (
	"errors"

	"github.com/FluidXR/devicewatch/internal/model"
)

// errUnsupportedPlatform is returned by NewOSSource on platforms this
// module carries no native enumerator for. The only native source is the
// Linux uevent-netlink one (usbsource/linux); a macOS/Windows IOKit or
// SetupAPI source is a documented gap, not an oversight — see DESIGN.md.
var errUnsupportedPlatform = errors.New("usbsource: no native source for this platform")

// osSourceFactory is populated by RegisterOSSourceFactory from a
// platform-specific init (see cmd's linux-only glue), keeping this
// package free of a direct (and cyclic) import of its own GOOS
// subpackages.
var osSourceFactory func(model.WatchSettings) (Source, error)

// RegisterOSSourceFactory installs the constructor NewOSSource delegates
// to. Platform-specific packages call this from an init function.
func RegisterOSSourceFactory(f func(model.WatchSettings) (Source, error)) {
	osSourceFactory = f
}

// NewOSSource returns the default Source for the current platform. On
// platforms with no registered factory, the watcher façade's Start
// surfaces this as an initialization failure rather than silently doing
// nothing.
func NewOSSource(settings model.WatchSettings) (Source, error) {
	if osSourceFactory == nil {
		return nil, &EnumerationInitError{Err: errUnsupportedPlatform}
	}
	return osSourceFactory(settings)
}
