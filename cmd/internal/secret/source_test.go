package secret

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSource(env map[string]string, tty bool, typed string) *Source {
	s := NewSource("USVD_JWT_SECRET", "jwt secret")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return tty }
	s.readSecret = func() ([]byte, error) { return []byte(typed), nil }
	s.prompt = io.Discard
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := testSource(map[string]string{"USVD_JWT_SECRET": "from-env"}, true, "typed")
	value, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", value)
}

func TestSourceRejectsEmptyValues(t *testing.T) {
	_, err := testSource(map[string]string{"USVD_JWT_SECRET": "  "}, true, "typed").Get()
	require.ErrorContains(t, err, "set but empty")

	_, err = testSource(nil, true, " ").Get()
	require.ErrorContains(t, err, "cannot be empty")

	_, err = testSource(nil, false, "typed").Get()
	require.ErrorContains(t, err, "run interactively")
}

func TestSourcePromptsOnce(t *testing.T) {
	s := testSource(nil, true, "typed")
	calls := 0
	s.readSecret = func() ([]byte, error) {
		calls++
		return []byte("typed"), nil
	}
	for i := 0; i < 2; i++ {
		value, err := s.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", value)
	}
	require.Equal(t, 1, calls)
}
