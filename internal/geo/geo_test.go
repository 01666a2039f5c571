package geo

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLocator struct {
	calls   int
	country string
	err     error
}

func (c *countingLocator) Lookup(string) (string, error) {
	c.calls++
	return c.country, c.err
}

func TestParsePublic(t *testing.T) {
	cases := []struct {
		ip     string
		public bool
		err    bool
	}{
		{ip: "8.8.8.8", public: true},
		{ip: "2001:4860:4860::8888", public: true},
		{ip: "::ffff:8.8.8.8", public: true},
		{ip: "10.1.2.3"},
		{ip: "192.168.0.1"},
		{ip: "127.0.0.1"},
		{ip: "::1"},
		{ip: "0.0.0.0"},
		{ip: "not-an-ip", err: true},
		{ip: "", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.ip, func(t *testing.T) {
			_, public, err := parsePublic(tc.ip)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidIP)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.public, public)
		})
	}
}

func TestCachedMemoizesSuccess(t *testing.T) {
	inner := &countingLocator{country: "BR"}
	c, err := NewCached(inner, 100, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Lookup("200.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "BR", got)
	c.cache.Wait()

	got, err = c.Lookup("200.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "BR", got)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedSkipsFailures(t *testing.T) {
	inner := &countingLocator{err: errors.New("db closed")}
	c, err := NewCached(inner, 100, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Lookup("200.1.1.1")
	require.Error(t, err)
	c.cache.Wait()
	_, err = c.Lookup("200.1.1.1")
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestNoop(t *testing.T) {
	got, err := Noop{}.Lookup("8.8.8.8")
	require.NoError(t, err)
	assert.Empty(t, got)
}
