package kernel

// Memset sets every byte of dst to the supplied value. Instead of using a for
// loop, this function uses log2(len(dst)) copy calls which is considerably
// faster when clearing whole frames.
func Memset(dst []byte, value byte) {
	if len(dst) == 0 {
		return
	}

	// Set first element and make log2(size) optimized copies
	dst[0] = value
	for index := 1; index < len(dst); index *= 2 {
		copy(dst[index:], dst[:index])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst and returns
// the number of copied bytes.
func Memcopy(src, dst []byte) int {
	return copy(dst, src)
}
