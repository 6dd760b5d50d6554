//go:build linux

package platform

// DefaultSystemPaths are the distribution-managed install locations.
// Kernel threads have no executable path; trust them with "ppid: 2".
var DefaultSystemPaths = SystemPaths{
	"/usr/sbin/",
	"/sbin/",
	"/usr/lib/systemd/",
	"/lib/systemd/",
	"/usr/libexec/",
	"/usr/bin/",
	"/bin/",
}
