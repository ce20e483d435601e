package usb

import (
	"testing"

	"github.com/google/gousb"
)

func TestBridgeLookup(t *testing.T) {
	db := NewBridgeDatabase()

	tests := []struct {
		vendor, product gousb.ID
		want            string
	}{
		{0x10C4, 0xEA60, "CP210x"},
		{0x1A86, 0x7523, "CH340"},
		{0x1A86, 0x55D4, "CH9102"},
		{0x0403, 0x6001, "FT232R"},
		{0x0403, 0x6015, ""},
		{0x04B8, 0x0202, ""},
	}
	for _, tt := range tests {
		got := db.Lookup(tt.vendor, tt.product)
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("Lookup(%s:%s) = %s, want nil", tt.vendor, tt.product, got.Chip)
		case tt.want != "" && (got == nil || got.Chip != tt.want):
			t.Errorf("Lookup(%s:%s) = %+v, want %s", tt.vendor, tt.product, got, tt.want)
		}
	}

	if !db.IsKnownVendor(0x0403) || db.IsKnownVendor(0x04B8) {
		t.Error("vendor table mismatch")
	}
	if n := db.GetTotalProductCount(); n != 4 {
		t.Errorf("GetTotalProductCount() = %d, want 4", n)
	}
}

func TestBridgeDatabaseAddProduct(t *testing.T) {
	db := NewBridgeDatabase()
	db.AddProduct(0x0403, 0x6015, &BridgeInfo{Chip: "FT231X", InEndpoint: 1, OutEndpoint: 2})
	db.AddProduct(0x2E8A, 0x000A, &BridgeInfo{Chip: "RP2040"})

	if b := db.Lookup(0x0403, 0x6015); b == nil || b.Chip != "FT231X" {
		t.Errorf("added product not found: %+v", b)
	}
	if db.Lookup(0x2E8A, 0x000A) != nil {
		t.Error("product added under unknown vendor")
	}
}
