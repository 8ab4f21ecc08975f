package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("PIDASH_TEST_SET", "value")
	t.Setenv("PIDASH_TEST_BLANK", "   ")

	assert.Equal(t, "value", GetEnv("PIDASH_TEST_SET", "fallback"))
	assert.Equal(t, "fallback", GetEnv("PIDASH_TEST_BLANK", "fallback"), "blank counts as unset")
	assert.Equal(t, "fallback", GetEnv("PIDASH_TEST_MISSING", "fallback"))
}
