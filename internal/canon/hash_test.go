package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes_DomainSeparation(t *testing.T) {
	data := []byte("identical payload")

	a := HashBytes(DomainEntry, data)
	b := HashBytes(DomainPCAP, data)
	assert.NotEqual(t, a, b, "same bytes under different domains must hash differently")

	// Domain/data boundary cannot be shifted: the null separator makes
	// ("ab", "c") and ("a", "bc") distinct.
	assert.NotEqual(t, HashBytes("ab", []byte("c")), HashBytes("a", []byte("bc")))
}

func TestHash_StableAcrossInsertionOrder(t *testing.T) {
	first := map[string]any{}
	first["alpha"] = int64(1)
	first["beta"] = "x"

	second := map[string]any{}
	second["beta"] = "x"
	second["alpha"] = int64(1)

	ha, err := Hash(DomainState, first)
	require.NoError(t, err)
	hb, err := Hash(DomainState, second)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_RejectsFloats(t *testing.T) {
	_, err := Hash(DomainState, map[string]any{"p": 0.25})
	require.Error(t, err)
}

func TestMustHash_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		MustHash(DomainState, map[string]any{"p": 0.25})
	})
}

func TestMerkleRoot_Empty(t *testing.T) {
	_, err := MerkleRoot(nil)
	require.Error(t, err)
}

func TestMerkleRoot_SingleLeaf(t *testing.T) {
	root, err := MerkleRoot([]string{"leafhash"})
	require.NoError(t, err)
	assert.Equal(t, HashBytes(DomainMerkleLeaf, []byte("leafhash")), root)
}

func TestMerkleRoot_PairsAndOddPromotion(t *testing.T) {
	l1 := HashBytes(DomainMerkleLeaf, []byte("a"))
	l2 := HashBytes(DomainMerkleLeaf, []byte("b"))
	l3 := HashBytes(DomainMerkleLeaf, []byte("c"))

	// Three leaves: (a,b) pair, c promoted, then the pair hashes with c.
	want := HashBytes(DomainMerkleNode, []byte(HashBytes(DomainMerkleNode, []byte(l1+l2))+l3))

	root, err := MerkleRoot([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, want, root)
}

func TestMerkleRoot_OrderMatters(t *testing.T) {
	a, err := MerkleRoot([]string{"x", "y"})
	require.NoError(t, err)
	b, err := MerkleRoot([]string{"y", "x"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
