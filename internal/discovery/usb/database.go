// internal/discovery/usb/database.go
package usb

import (
	"github.com/google/gousb"
)

// BridgeDatabase lists USB-UART bridges commonly found in front of Wi-Fi
// co-processors on development boards.
type BridgeDatabase struct {
	vendors map[gousb.ID]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[gousb.ID]*BridgeInfo
}

// BridgeInfo describes one bridge chip and where its data endpoints live.
type BridgeInfo struct {
	Chip        string
	Interface   int
	InEndpoint  int
	OutEndpoint int
	Confidence  float64
}

// NewBridgeDatabase creates and populates the bridge table
func NewBridgeDatabase() *BridgeDatabase {
	db := &BridgeDatabase{
		vendors: make(map[gousb.ID]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *BridgeDatabase) initializeDatabase() {
	// Silicon Labs (0x10C4)
	db.AddVendor(0x10C4, &VendorInfo{Name: "Silicon Labs"})
	db.AddProduct(0x10C4, 0xEA60, &BridgeInfo{
		Chip:        "CP210x",
		InEndpoint:  1,
		OutEndpoint: 1,
		Confidence:  0.8,
	})

	// WCH (0x1A86)
	db.AddVendor(0x1A86, &VendorInfo{Name: "Nanjing Qinheng Microelectronics"})
	db.AddProduct(0x1A86, 0x7523, &BridgeInfo{
		Chip:        "CH340",
		InEndpoint:  2,
		OutEndpoint: 2,
		Confidence:  0.75,
	})
	db.AddProduct(0x1A86, 0x55D4, &BridgeInfo{
		Chip:        "CH9102",
		Interface:   1,
		InEndpoint:  3,
		OutEndpoint: 2,
		Confidence:  0.75,
	})

	// FTDI (0x0403)
	db.AddVendor(0x0403, &VendorInfo{Name: "Future Technology Devices International"})
	db.AddProduct(0x0403, 0x6001, &BridgeInfo{
		Chip:        "FT232R",
		InEndpoint:  1,
		OutEndpoint: 2,
		Confidence:  0.6,
	})
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *BridgeDatabase) IsKnownVendor(vendorID gousb.ID) bool {
	_, exists := db.vendors[vendorID]
	return exists
}

// GetVendorInfo retrieves vendor information
func (db *BridgeDatabase) GetVendorInfo(vendorID gousb.ID) *VendorInfo {
	return db.vendors[vendorID]
}

// Lookup returns the bridge for a vendor/product pair, or nil.
func (db *BridgeDatabase) Lookup(vendorID, productID gousb.ID) *BridgeInfo {
	vendor := db.vendors[vendorID]
	if vendor == nil {
		return nil
	}
	return vendor.GetProductInfo(productID)
}

// GetProductInfo retrieves product information from vendor
func (vi *VendorInfo) GetProductInfo(productID gousb.ID) *BridgeInfo {
	return vi.products[productID]
}

// GetTotalProductCount returns total number of known bridges
func (db *BridgeDatabase) GetTotalProductCount() int {
	total := 0
	for _, vendor := range db.vendors {
		total += len(vendor.products)
	}
	return total
}

// AddVendor adds a new vendor to the database
func (db *BridgeDatabase) AddVendor(vendorID gousb.ID, info *VendorInfo) {
	if info.products == nil {
		info.products = make(map[gousb.ID]*BridgeInfo)
	}
	db.vendors[vendorID] = info
}

// AddProduct adds a new bridge to an existing vendor
func (db *BridgeDatabase) AddProduct(vendorID, productID gousb.ID, info *BridgeInfo) {
	if vendor, exists := db.vendors[vendorID]; exists {
		vendor.products[productID] = info
	}
}
