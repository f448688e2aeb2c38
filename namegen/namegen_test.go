package namegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	assert.NotEmpty(t, Get().String())
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "standby-brave-otter", ID("brave-otter").Prefixed("standby"))
}
