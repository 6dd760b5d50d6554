//go:build darwin

package platform

var DefaultSystemPaths = SystemPaths{
	"/System/",
	"/usr/libexec/",
	"/usr/sbin/",
	"/usr/bin/",
	"/sbin/",
	"/Library/Apple/",
}
