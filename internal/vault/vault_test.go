package vault

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

func newTestVault() *Vault {
	return New(zap.NewNop(), NewMemoryReleaseLog())
}

func TestMintSingleHashesSecret(t *testing.T) {
	v := newTestVault()
	secret, hash, err := v.MintSingle("order-1")
	require.NoError(t, err)
	require.Len(t, secret, 32)
	require.NotEqual(t, [32]byte{}, hash)
}

func TestReleaseRequiresVerification(t *testing.T) {
	v := newTestVault()
	_, _, err := v.MintSingle("order-1")
	require.NoError(t, err)

	_, err = v.Release("order-1", nil, "resolver-a", func(string, *int) bool { return false })
	require.ErrorIs(t, err, types.ErrNotVerified)
}

// TestAtMostOnceRelease asserts a given scope yields a secret at most
// once; subsequent calls return ErrAlreadyReleased even under
// concurrent access.
func TestAtMostOnceRelease(t *testing.T) {
	v := newTestVault()
	_, _, err := v.MintSingle("order-1")
	require.NoError(t, err)

	const n = 20
	var successes int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := v.Release("order-1", nil, "resolver-a", func(string, *int) bool { return true })
			if err == nil {
				atomic.AddInt32(&successes, 1)
			} else {
				require.ErrorIs(t, err, types.ErrAlreadyReleased)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, successes)
}

func TestReleaseUnknownScope(t *testing.T) {
	v := newTestVault()
	_, err := v.Release("nonexistent", nil, "resolver-a", func(string, *int) bool { return true })
	require.ErrorIs(t, err, types.ErrUnknownSegment)
}

func TestMintSegmentedAndProofFor(t *testing.T) {
	v := newTestVault()
	secrets, hashes, root, proofs, err := v.MintSegmented("order-2", 4)
	require.NoError(t, err)
	require.Len(t, secrets, 4)
	require.Len(t, hashes, 4)
	require.Len(t, proofs, 4)
	require.NotEqual(t, [32]byte{}, root)

	proof, ok := v.ProofFor("order-2", 2)
	require.True(t, ok)
	require.Equal(t, proofs[1], proof)

	segID := 2
	secret, err := v.Release("order-2", &segID, "resolver-b", func(string, *int) bool { return true })
	require.NoError(t, err)
	require.Equal(t, secrets[1], secret)

	_, err = v.Release("order-2", &segID, "resolver-b", func(string, *int) bool { return true })
	require.ErrorIs(t, err, types.ErrAlreadyReleased)
}
