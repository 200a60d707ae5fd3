package q3ptransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeerURI(t *testing.T) {
	u, err := ParsePeerURI("tcp://127.0.0.1:9303")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", u.Host)
	assert.Equal(t, uint16(9303), u.Port)
}

func TestParsePeerURIWildcardHost(t *testing.T) {
	u, err := ParsePeerURI("tcp://*:9303")
	require.NoError(t, err)
	assert.Equal(t, "*", u.Host)
}

func TestParsePeerURIRejectsMissingScheme(t *testing.T) {
	_, err := ParsePeerURI("127.0.0.1:9303")
	require.Error(t, err)
}

func TestParsePeerURIRejectsMissingPort(t *testing.T) {
	_, err := ParsePeerURI("tcp://127.0.0.1")
	require.Error(t, err)
}

func TestDialAddressRejectsWildcard(t *testing.T) {
	u, err := ParsePeerURI("tcp://*:9303")
	require.NoError(t, err)
	_, err = u.DialAddress()
	require.Error(t, err)
}

func TestListenAddressResolvesConcreteHost(t *testing.T) {
	u, err := ParsePeerURI("tcp://127.0.0.1:9303")
	require.NoError(t, err)
	addr, err := u.ListenAddress()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9303", addr)
}
