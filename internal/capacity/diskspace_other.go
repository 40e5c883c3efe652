//go:build !(linux || darwin || freebsd)

package capacity

// FreeSpace is not implemented on this platform; the guard then relies on the
// configured budget alone.
func FreeSpace(path string) (int64, error) {
	return 0, ErrUnsupported
}
