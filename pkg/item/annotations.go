package item

// Annotations is a fixed-width bitmask for tagging items without touching payloads
type Annotations uint64

// Set returns a with bit n set
func (a Annotations) Set(n uint) Annotations {
	return a | 1<<n
}

// Clear returns a with bit n cleared
func (a Annotations) Clear(n uint) Annotations {
	return a &^ (1 << n)
}

// Has reports whether bit n is set
func (a Annotations) Has(n uint) bool {
	return a&(1<<n) != 0
}
