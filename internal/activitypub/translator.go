// Package activitypub translates Chorus post announcements into
// ActivityStreams objects for delivery to fediverse targets.
package activitypub

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

const (
	contextActivityStreams = "https://www.w3.org/ns/activitystreams"
	audiencePublic         = "https://www.w3.org/ns/activitystreams#Public"

	secondsPerDay = 86400
)

// Note is the outbound ActivityStreams object.
type Note struct {
	Context      string   `json:"@context"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	Published    string   `json:"published"`
	To           []string `json:"to"`
}

// Translator builds Notes with deterministic publish timestamps anchored to
// the network genesis.
type Translator struct {
	genesisTimestamp int64
	actorDomain      string
}

// NewTranslator creates a translator for the given genesis epoch seconds and
// actor domain.
func NewTranslator(genesisTimestamp int64, actorDomain string) *Translator {
	return &Translator{genesisTimestamp: genesisTimestamp, actorDomain: actorDomain}
}

// ActorURI derives the pseudonymous actor for an author key: the first 16
// hex characters of SHA-256(pubkey) under the configured domain. The real
// key never appears in public objects.
func (t *Translator) ActorURI(authorPubkey []byte) string {
	sum := sha256.Sum256(authorPubkey)
	return fmt.Sprintf("https://%s/actors/%s", t.actorDomain, hex.EncodeToString(sum[:])[:16])
}

// DerivePublishTimestamp maps (post, day) to a publish time inside that day.
// The intra-day offset is drawn from BLAKE3("{post_id_hex}:{day}") so the
// same post always publishes at the same instant on any bridge, and the
// author's actual wall-clock activity never leaks.
func (t *Translator) DerivePublishTimestamp(postID []byte, dayNumber int64) int64 {
	seed := fmt.Sprintf("%s:%d", hex.EncodeToString(postID), dayNumber)
	sum := blake3.Sum256([]byte(seed))
	offset := int64(binary.BigEndian.Uint64(sum[:8]) % secondsPerDay)
	return t.genesisTimestamp + dayNumber*secondsPerDay + offset
}

// BuildNote assembles the public Note for a post. bodyMD is the markdown
// body supplied with the export request; the announcement itself only
// carries the content hash.
func (t *Translator) BuildNote(postID, authorPubkey []byte, dayNumber int64, bodyMD string) (Note, int64) {
	publishedTS := t.DerivePublishTimestamp(postID, dayNumber)
	note := Note{
		Context:      contextActivityStreams,
		Type:         "Note",
		AttributedTo: t.ActorURI(authorPubkey),
		Content:      bodyMD,
		Published:    time.Unix(publishedTS, 0).UTC().Format(time.RFC3339),
		To:           []string{audiencePublic},
	}
	return note, publishedTS
}

// Marshal encodes a Note as application/activity+json bytes.
func (n Note) Marshal() ([]byte, error) {
	return json.Marshal(n)
}
