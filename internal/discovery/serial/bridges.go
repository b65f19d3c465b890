// internal/discovery/serial/bridges.go
package serial

import "strings"

// BridgeDatabase identifies common USB-to-serial bridge chips by VID/PID
type BridgeDatabase struct {
	vendors map[string]*VendorInfo
}

// VendorInfo describes a bridge vendor and its known chips
type VendorInfo struct {
	Name     string
	products map[string]string
}

// NewBridgeDatabase creates and initializes the bridge database
func NewBridgeDatabase() *BridgeDatabase {
	db := &BridgeDatabase{
		vendors: make(map[string]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *BridgeDatabase) initializeDatabase() {
	db.AddVendor("0403", "FTDI", map[string]string{
		"6001": "FT232R",
		"6010": "FT2232",
		"6011": "FT4232",
		"6014": "FT232H",
		"6015": "FT-X",
	})
	db.AddVendor("10C4", "Silicon Labs", map[string]string{
		"EA60": "CP210x",
		"EA70": "CP2105",
	})
	db.AddVendor("067B", "Prolific", map[string]string{
		"2303": "PL2303",
	})
	db.AddVendor("1A86", "WCH", map[string]string{
		"7523": "CH340",
		"5523": "CH341",
		"55D4": "CH9102",
	})
	db.AddVendor("2341", "Arduino", map[string]string{
		"0043": "Uno",
		"0042": "Mega 2560",
		"8036": "Leonardo",
	})
	db.AddVendor("0483", "STMicroelectronics", map[string]string{
		"5740": "Virtual COM Port",
	})
}

// AddVendor registers a vendor and its products. Existing products are kept.
func (db *BridgeDatabase) AddVendor(vid, name string, products map[string]string) {
	vid = strings.ToUpper(vid)
	vendor, ok := db.vendors[vid]
	if !ok {
		vendor = &VendorInfo{Name: name, products: make(map[string]string)}
		db.vendors[vid] = vendor
	}
	for pid, model := range products {
		vendor.products[strings.ToUpper(pid)] = model
	}
}

// Describe returns "<vendor> <chip>", the vendor alone when the product is
// unknown, or "" for an unknown vendor.
func (db *BridgeDatabase) Describe(vid, pid string) string {
	vendor, ok := db.vendors[strings.ToUpper(vid)]
	if !ok {
		return ""
	}
	if model, ok := vendor.products[strings.ToUpper(pid)]; ok {
		return vendor.Name + " " + model
	}
	return vendor.Name
}
