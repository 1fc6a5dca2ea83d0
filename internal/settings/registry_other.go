//go:build !windows

package settings

import "errors"

func newRegistryStore() (Store, error) {
	return nil, errors.New("registry settings require windows")
}
