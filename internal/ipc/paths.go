// Package ipc locates the local endpoints the bridge listens on.
package ipc

import (
	"os"
	"path/filepath"
)

// RuntimeDir returns dir if set, otherwise $XDG_RUNTIME_DIR/upbridge, falling
// back to ~/.local/share/upbridge. The directory is created with private
// permissions.
func RuntimeDir(dir string) (string, error) {
	if dir == "" {
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			dir = filepath.Join(xdg, "upbridge")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dir = filepath.Join(home, ".local", "share", "upbridge")
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// SocketPath returns the socket path for name inside the runtime directory,
// e.g. SocketPath("", "listener") -> $XDG_RUNTIME_DIR/upbridge/listener.sock.
func SocketPath(dir, name string) (string, error) {
	d, err := RuntimeDir(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name+".sock"), nil
}

// LockPath returns the daemon lock file path inside the runtime directory.
func LockPath(dir string) (string, error) {
	d, err := RuntimeDir(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "upbridge.lock"), nil
}
