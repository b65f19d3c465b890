// internal/model/port.go
package model

// SerialPort describes a serial device found on the host
type SerialPort struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// Label renders the port for operator menus
func (p SerialPort) Label() string {
	if !p.IsUSB {
		return p.Name
	}
	label := p.Name + " [USB " + p.VID + ":" + p.PID
	if p.Product != "" {
		label += " " + p.Product
	}
	return label + "]"
}

// Property is one entry of the device property table
type Property struct {
	Index      int      `json:"index"`
	Name       string   `json:"name"`
	Attributes []string `json:"attributes"`
}
