package namegen

import (
	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

// ID is a human friendly identifier for a process-local instance, such as a
// manager or a provisioner, that shows up in logs and in remote resource names.
type ID string

func Get() ID {
	return ID(gen.Get())
}

func (id ID) String() string {
	return string(id)
}

// Prefixed returns the name of a remote resource owned by this instance.
func (id ID) Prefixed(prefix string) string {
	return prefix + "-" + string(id)
}
