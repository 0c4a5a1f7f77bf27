package model

import "encoding/json"

// wireEvent mirrors the §6 stdout schema exactly: string fields omitted
// when empty, numeric fields omitted when zero, except Identity and Type
// which are always present. off is only ever written as true — a live
// record omits it.
type wireEvent struct {
	Identity string `json:"id"`
	Off      bool   `json:"off,omitempty"`

	Devpath string `json:"devpath,omitempty"`
	Hub     string `json:"hub,omitempty"`

	Serial       string `json:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Model        string `json:"model,omitempty"`
	Device       string `json:"device,omitempty"`
	Driver       string `json:"driver,omitempty"`

	IP   string `json:"ip,omitempty"`
	Port uint16 `json:"port,omitempty"`
	VID  uint16 `json:"vid,omitempty"`
	PID  uint16 `json:"pid,omitempty"`

	Type string `json:"type"`

	Description string `json:"description,omitempty"`

	USBClass    uint8 `json:"usbClass,omitempty"`
	USBSubClass uint8 `json:"usbSubClass,omitempty"`
	USBProto    uint8 `json:"usbProto,omitempty"`
}

func toWireEvent(d DeviceInterface) wireEvent {
	return wireEvent{
		Identity:     d.Identity,
		Off:          d.Off,
		Devpath:      d.Devpath,
		Hub:          d.Hub,
		Serial:       d.Serial,
		Manufacturer: d.Manufacturer,
		Product:      d.Product,
		Model:        d.Model,
		Device:       d.Device,
		Driver:       d.Driver,
		IP:           d.IP,
		Port:         d.Port,
		VID:          d.VID,
		PID:          d.PID,
		Type:         d.Type.String(),
		Description:  d.Description,
		USBClass:     d.USBClass,
		USBSubClass:  d.USBSubClass,
		USBProto:     d.USBProto,
	}
}

// MarshalJSON renders d per the §6 stdout schema: a compact single line.
func (d DeviceInterface) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWireEvent(d))
}

// MarshalJSONIndent renders d with 4-space pretty-printing, for the CLI's
// `pretty` flag (§6).
func (d DeviceInterface) MarshalJSONIndent() ([]byte, error) {
	return json.MarshalIndent(toWireEvent(d), "", "    ")
}

// EncodeEvent writes the JSON form of d to enc (a *json.Encoder, typically
// wrapping stdout), one line per call, matching the line-delimited stream
// described in §6.
func EncodeEvent(enc *json.Encoder, d DeviceInterface) error {
	return enc.Encode(toWireEvent(d))
}
