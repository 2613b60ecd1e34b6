package cookie_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miknet/miknet/pkg/cookie"
)

func TestNewKeyIsRandomAndSized(t *testing.T) {
	a, err := cookie.NewKey()
	require.NoError(t, err)
	b, err := cookie.NewKey()
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "two keys drawn from the CSPRNG should not collide")
}

func TestSignThenVerifyRoundTrips(t *testing.T) {
	key, err := cookie.NewKey()
	require.NoError(t, err)

	tcb := cookie.Tcb{OurTSN: 1, OurToken: 2, TheirTSN: 3, TheirToken: 4}
	sc := cookie.Sign(tcb, key)

	assert.True(t, cookie.Verify(sc, key))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, err := cookie.NewKey()
	require.NoError(t, err)
	other, err := cookie.NewKey()
	require.NoError(t, err)

	tcb := cookie.Tcb{OurTSN: 1, OurToken: 2, TheirTSN: 3, TheirToken: 4}
	sc := cookie.Sign(tcb, key)

	assert.False(t, cookie.Verify(sc, other))
}

func TestVerifyRejectsTamperedTcb(t *testing.T) {
	key, err := cookie.NewKey()
	require.NoError(t, err)

	tcb := cookie.Tcb{OurTSN: 1, OurToken: 2, TheirTSN: 3, TheirToken: 4}
	sc := cookie.Sign(tcb, key)
	sc.Tcb.TheirToken = 999

	assert.False(t, cookie.Verify(sc, key))
}
