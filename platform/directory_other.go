//go:build !linux && !darwin

package platform

// DefaultSystemPaths is empty where no collector exists.
var DefaultSystemPaths = SystemPaths{}

// New reports ErrUnsupported on targets without a collector.
func New() (Directory, error) {
	return nil, ErrUnsupported
}
