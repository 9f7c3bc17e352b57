package geoarrow

// Bitmap is a validity bitmap in Arrow bit order: bit i lives in byte
// i/8 at position i%8, least significant bit first. The byte layout is
// kept exact so exported buffers can be consumed by other runtimes
// without translation.
type Bitmap struct {
	bits   []byte
	length int
}

// NewBitmap returns an empty bitmap with capacity for n bits.
func NewBitmap(n int) *Bitmap {
	return &Bitmap{bits: make([]byte, 0, (n+7)/8)}
}

// BitmapFromBytes wraps raw validity bytes covering length bits. The
// bytes are shared, not copied.
func BitmapFromBytes(data []byte, length int) *Bitmap {
	return &Bitmap{bits: data, length: length}
}

// Len returns the number of bits.
func (b *Bitmap) Len() int { return b.length }

// Bytes returns the underlying byte buffer, shared.
func (b *Bitmap) Bytes() []byte { return b.bits }

// Bit reports whether bit i is set. Bits beyond Len are false.
func (b *Bitmap) Bit(i int) bool {
	if b == nil || i < 0 || i >= b.length {
		return false
	}
	return b.bits[i>>3]&(1<<uint(i&7)) != 0
}

// Append adds one bit at the end.
func (b *Bitmap) Append(set bool) {
	if b.length>>3 >= len(b.bits) {
		b.bits = append(b.bits, 0)
	}
	if set {
		b.bits[b.length>>3] |= 1 << uint(b.length&7)
	}
	b.length++
}

// SetCount returns the number of set bits.
func (b *Bitmap) SetCount() int {
	if b == nil {
		return 0
	}
	n := 0
	for i := 0; i < b.length; i++ {
		if b.Bit(i) {
			n++
		}
	}
	return n
}
