package permission

// Mask64 is a capability set. Bit 63 is the root bit: a mask holding it
// satisfies every capability check.
type Mask64 uint64

// RootBit is the bit reserved for the global administrator.
const RootBit = 63

// Has reports whether bit is set or the mask holds the root bit.
func (m Mask64) Has(bit int) bool {
	if bit < 0 || bit >= 64 {
		return false
	}
	if m&(1<<RootBit) != 0 {
		return true
	}
	return m&(1<<bit) != 0
}

// Set returns m with bit set.
func (m Mask64) Set(bit int) Mask64 {
	if bit < 0 || bit >= 64 {
		return m
	}
	return m | (1 << bit)
}

// Clear returns m with bit cleared.
func (m Mask64) Clear(bit int) Mask64 {
	if bit < 0 || bit >= 64 {
		return m
	}
	return m &^ (1 << bit)
}
