package device

// Prober looks up the driver able to talk to a descriptor. Probe returns nil
// for unsupported devices.
type Prober interface {
	Probe(d Descriptor) Driver
}

// ProbeEntry maps a USB identity to a driver. ProductID 0 matches any
// product of the vendor.
type ProbeEntry struct {
	VendorID  uint16
	ProductID uint16
	Chip      string
	Driver    Driver
}

// ProbeTable is a Prober backed by a fixed list of known chips.
type ProbeTable struct {
	entries  []ProbeEntry
	fallback Driver
}

// knownChips lists USB-serial bridges commonly found on Arduino-class boards.
var knownChips = []ProbeEntry{
	{VendorID: 0x1A86, ProductID: 0x7523, Chip: "CH340"},
	{VendorID: 0x1A86, ProductID: 0x5523, Chip: "CH341"},
	{VendorID: 0x0403, ProductID: 0x6001, Chip: "FT232R"},
	{VendorID: 0x0403, ProductID: 0x6015, Chip: "FT231X"},
	{VendorID: 0x10C4, ProductID: 0xEA60, Chip: "CP210x"},
	{VendorID: 0x067B, ProductID: 0x2303, Chip: "PL2303"},
	{VendorID: 0x2341, Chip: "Arduino CDC-ACM"},
	{VendorID: 0x2A03, Chip: "Arduino.org CDC-ACM"},
}

// DefaultProber returns a table of known chips, all served by drv.
func DefaultProber(drv Driver) *ProbeTable {
	t := &ProbeTable{}
	for _, e := range knownChips {
		e.Driver = drv
		t.entries = append(t.entries, e)
	}
	return t
}

// PermissiveProber accepts every device, falling back to drv for unknown chips.
func PermissiveProber(drv Driver) *ProbeTable {
	t := DefaultProber(drv)
	t.fallback = drv
	return t
}

// NewProbeTable builds a table from explicit entries.
func NewProbeTable(entries ...ProbeEntry) *ProbeTable {
	return &ProbeTable{entries: entries}
}

// Probe implements Prober.
func (t *ProbeTable) Probe(d Descriptor) Driver {
	if e, ok := t.Lookup(d); ok {
		return e.Driver
	}
	return t.fallback
}

// Lookup returns the entry matching d, if any.
func (t *ProbeTable) Lookup(d Descriptor) (ProbeEntry, bool) {
	for _, e := range t.entries {
		if e.VendorID != d.VendorID {
			continue
		}
		if e.ProductID == 0 || e.ProductID == d.ProductID {
			return e, true
		}
	}
	return ProbeEntry{}, false
}
