package merkle

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot_EmptySetIsEmptyString(t *testing.T) {
	assert.Equal(t, "", Root(map[string]string{}))
	assert.Equal(t, "", Root(nil))
}

func TestRoot_DeterministicOverKeyOrder(t *testing.T) {
	digests := map[string]string{
		"a.py": HashContent([]byte("def foo(): pass")),
		"b.py": HashContent([]byte("def bar(): pass")),
		"c.py": HashContent([]byte("def baz(): pass")),
	}

	root1 := Root(digests)
	root2 := Root(digests)
	require.Equal(t, root1, root2)
	assert.NotEmpty(t, root1)
}

func TestRoot_ChangesWhenAnyDigestChanges(t *testing.T) {
	before := map[string]string{"a.py": HashContent([]byte("v1"))}
	after := map[string]string{"a.py": HashContent([]byte("v2"))}

	assert.NotEqual(t, Root(before), Root(after))
}

func TestRoot_OddNodePromotedUnchanged(t *testing.T) {
	// A 3-leaf set exercises the odd-node-promotion branch.
	digests := map[string]string{
		"a": "1", "b": "2", "c": "3",
	}
	root := Root(digests)
	assert.NotEmpty(t, root)
	assert.Len(t, root, 64) // hex-encoded SHA-256

	// The third leaf is carried up unhashed and paired at the next level.
	pair := nodeHash(leafHash("a:1"), leafHash("b:2"))
	assert.Equal(t, hex.EncodeToString(nodeHash(pair, leafHash("c:3"))), root)
}

func TestBuildState_CopiesDigests(t *testing.T) {
	digests := map[string]string{"a.py": "abc"}
	state := BuildState(digests)

	digests["a.py"] = "mutated"

	assert.Equal(t, "abc", state.Digests["a.py"], "BuildState must copy, not alias, the input map")
}

func TestDetectChanges_AddedModifiedDeleted(t *testing.T) {
	prior := map[string]string{
		"a.py": "hash-a",
		"b.py": "hash-b",
		"c.py": "hash-c",
	}
	current := map[string]string{
		"a.py": "hash-a",       // unchanged
		"b.py": "hash-b-new",   // modified
		"d.py": "hash-d",       // added
	}

	diff := DetectChanges(prior, current)

	assert.Equal(t, []string{"d.py"}, diff.Added)
	assert.Equal(t, []string{"b.py"}, diff.Modified)
	assert.Equal(t, []string{"c.py"}, diff.Deleted)
	assert.True(t, diff.HasChanges())
}

func TestDetectChanges_NoChanges(t *testing.T) {
	m := map[string]string{"a.py": "hash-a"}
	diff := DetectChanges(m, m)
	assert.False(t, diff.HasChanges())
}

func TestHashContent_Deterministic(t *testing.T) {
	h1 := HashContent([]byte("hello"))
	h2 := HashContent([]byte("hello"))
	h3 := HashContent([]byte("world"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
