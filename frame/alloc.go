package frame

import "reflect"

// Alignment is the byte alignment of every plane buffer and stride.
const Alignment = 32

// Alloc returns a zeroed n-byte buffer whose first byte sits on an Alignment
// boundary. The backing array is over-allocated and the returned slice starts
// at the first aligned element; the Go heap does not move objects, so the
// alignment holds for the lifetime of the buffer.
func Alloc(n int) []byte {
	raw := make([]byte, n+Alignment)
	off := 0
	if mis := int(reflect.ValueOf(raw).Pointer() % Alignment); mis != 0 {
		off = Alignment - mis
	}
	return raw[off : off+n : off+n]
}

// IsAligned reports whether b starts on an Alignment boundary.
func IsAligned(b []byte) bool {
	if cap(b) == 0 {
		return false
	}
	return reflect.ValueOf(b[:1]).Pointer()%Alignment == 0
}

func alignUp(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
