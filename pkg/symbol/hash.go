package symbol

// Finalizer constants from the MurmurHash3 fmix32 step.
const (
	mixShift1 = 16
	mixMul1   = 0x85ebca6b
	mixShift2 = 13
	mixMul2   = 0xc2b2ae35
	mixShift3 = 16
)

// foldHash XORs successive bytes into a 32-bit word, shifting byte i left by
// 8*(i mod 4), four bytes per step.
func foldHash(text string) uint32 {
	var hash uint32

	idx := 0
	for ; idx+4 <= len(text); idx += 4 {
		hash ^= uint32(text[idx]) |
			uint32(text[idx+1])<<8 |
			uint32(text[idx+2])<<16 |
			uint32(text[idx+3])<<24
	}

	switch len(text) - idx {
	case 3:
		hash ^= uint32(text[idx+2]) << 16

		fallthrough
	case 2:
		hash ^= uint32(text[idx+1]) << 8

		fallthrough
	case 1:
		hash ^= uint32(text[idx])
	}

	return hash
}

// mix32 spreads the folded bits so that modulo bucket selection stays even for
// short keys that differ only in their high bytes.
func mix32(hash uint32) uint32 {
	hash ^= hash >> mixShift1
	hash *= mixMul1
	hash ^= hash >> mixShift2
	hash *= mixMul2
	hash ^= hash >> mixShift3

	return hash
}

// hashString is the content hash used for bucket selection. Equal content
// always yields equal hashes.
func hashString(text string) uint32 {
	return mix32(foldHash(text) ^ uint32(len(text)))
}
