package activitypub

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGenesis = int64(1700000000)

func TestActorURIHidesAuthorKey(t *testing.T) {
	tr := NewTranslator(testGenesis, "bridge.example")
	pubkey := []byte("author-public-key-material-32byt")

	uri := tr.ActorURI(pubkey)
	assert.True(t, strings.HasPrefix(uri, "https://bridge.example/actors/"))

	sum := sha256.Sum256(pubkey)
	assert.Equal(t, "https://bridge.example/actors/"+hex.EncodeToString(sum[:])[:16], uri)
	assert.NotContains(t, uri, hex.EncodeToString(pubkey))
}

func TestDerivePublishTimestampIsDeterministic(t *testing.T) {
	tr := NewTranslator(testGenesis, "bridge.example")
	postID := []byte{0xde, 0xad, 0xbe, 0xef}

	first := tr.DerivePublishTimestamp(postID, 42)
	second := tr.DerivePublishTimestamp(postID, 42)
	assert.Equal(t, first, second)

	// Inside day 42 relative to genesis.
	dayStart := testGenesis + 42*secondsPerDay
	assert.GreaterOrEqual(t, first, dayStart)
	assert.Less(t, first, dayStart+secondsPerDay)
}

func TestDerivePublishTimestampVariesByPostAndDay(t *testing.T) {
	tr := NewTranslator(testGenesis, "bridge.example")
	a := tr.DerivePublishTimestamp([]byte{1}, 10)
	b := tr.DerivePublishTimestamp([]byte{2}, 10)
	c := tr.DerivePublishTimestamp([]byte{1}, 11)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a-10*secondsPerDay, c-11*secondsPerDay, "offsets should differ across days")
}

func TestBuildNoteShape(t *testing.T) {
	tr := NewTranslator(testGenesis, "bridge.example")
	postID := []byte{0xaa, 0xbb}
	author := []byte("some-author-key")

	note, publishedTS := tr.BuildNote(postID, author, 7, "hello **world**")
	assert.Equal(t, "https://www.w3.org/ns/activitystreams", note.Context)
	assert.Equal(t, "Note", note.Type)
	assert.Equal(t, tr.ActorURI(author), note.AttributedTo)
	assert.Equal(t, "hello **world**", note.Content)
	assert.Equal(t, []string{"https://www.w3.org/ns/activitystreams#Public"}, note.To)

	parsed, err := time.Parse(time.RFC3339, note.Published)
	require.NoError(t, err)
	assert.Equal(t, publishedTS, parsed.Unix())
	assert.Equal(t, time.UTC, parsed.Location())
}

func TestNoteMarshalUsesActivityStreamsKeys(t *testing.T) {
	tr := NewTranslator(testGenesis, "bridge.example")
	note, _ := tr.BuildNote([]byte{1}, []byte{2}, 1, "body")

	raw, err := note.Marshal()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "@context")
	assert.Contains(t, decoded, "attributedTo")
	assert.Contains(t, decoded, "published")
}
