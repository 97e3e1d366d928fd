package session

import (
	"fmt"
	"regexp"
)

// maxSocketPath is the smallest sun_path size among supported platforms
// (104 on darwin, 108 on linux), minus the trailing NUL.
const maxSocketPath = 103

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is a usable session name: lowercase
// alphanumerics, '-' and '_', and short enough that the daemon socket under
// the current base directory fits in a unix socket address.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("invalid session name %q: socket path %s is %d bytes, limit is %d (shorten the name or %s)",
			name, p, len(p), maxSocketPath, EnvHome)
	}
	return nil
}
