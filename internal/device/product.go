package device

var productNames = map[int]string{
	0:  "Core",
	6:  "Photon",
	8:  "P1",
	10: "Electron",
	31: "Raspberry Pi",
}

// ProductName maps a numeric product id to its name.
func ProductName(productID int) (string, bool) {
	name, ok := productNames[productID]
	return name, ok
}
