//go:build linux || darwin || freebsd || netbsd || openbsd

package machine

import "golang.org/x/sys/unix"

// allocMemory backs physical memory with an anonymous private mapping so
// that it is page aligned and zero-filled by the host kernel.
func allocMemory(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func freeMemory(mem []byte) error {
	return unix.Munmap(mem)
}
