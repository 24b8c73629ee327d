//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package machine

func allocMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func freeMemory(_ []byte) error {
	return nil
}
