package imprint

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Canonicalize produces the deterministic byte form an event id and signature
// are computed over. The field order is fixed by the array literal, so the
// same logical fields always yield identical bytes.
func Canonicalize(author string, createdAt int64, kind int, tags Tags, content string) ([]byte, error) {
	if tags == nil {
		tags = Tags{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode([]any{0, author, createdAt, kind, tags, content})
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID derives the content identifier from a canonical encoding.
func ComputeID(serialized []byte) string {
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])
}

// Sign canonicalizes the event, derives its id and signs the digest with the
// author's key. The event's Author must match the signing key.
func Sign(ev *Event, priv *ecdsa.PrivateKey) error {
	pubkey := hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey))
	if ev.Author == "" {
		ev.Author = pubkey
	}
	if ev.Author != pubkey {
		return fmt.Errorf("event author %s does not match signing key", ev.Author)
	}

	serialized, err := Canonicalize(ev.Author, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content)
	if err != nil {
		return err
	}
	ev.ID = ComputeID(serialized)

	digest, err := hex.DecodeString(ev.ID)
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return err
	}
	// drop the recovery byte, verification uses the 64-byte R||S form
	ev.Sig = hex.EncodeToString(sig[:64])
	return nil
}

// Verify reports whether the event's id matches its canonical encoding and
// its signature verifies against the author key. Failures are a result, not
// an error: callers use it to decide acceptance.
func Verify(ev Event) bool {
	serialized, err := Canonicalize(ev.Author, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content)
	if err != nil {
		return false
	}
	if ComputeID(serialized) != ev.ID {
		return false
	}

	pubkey, err := hex.DecodeString(ev.Author)
	if err != nil {
		return false
	}
	digest, err := hex.DecodeString(ev.ID)
	if err != nil || len(digest) != sha256.Size {
		return false
	}
	sig, err := hex.DecodeString(ev.Sig)
	if err != nil || len(sig) != 64 {
		return false
	}
	return crypto.VerifySignature(pubkey, digest, sig)
}

// ArticleFields is everything that goes into an article event besides the
// signing key.
type ArticleFields struct {
	Identifier string
	Title      string
	Content    string
	Summary    string
	Version    int
	Status     string
	Supersedes string
	Topics     []string
}

// NewArticleEvent builds an unsigned article event from the given fields.
// The supersedes tag is present iff the version is above 1.
func NewArticleEvent(author string, fields ArticleFields) Event {
	createdAt := time.Now().Unix()
	tags := Tags{
		{"d", fields.Identifier},
		{"title", fields.Title},
		{"published_at", fmt.Sprintf("%d", createdAt)},
		{"version", fmt.Sprintf("%d", fields.Version)},
		{"status", fields.Status},
	}
	if fields.Summary != "" {
		tags = append(tags, []string{"summary", fields.Summary})
	}
	if fields.Supersedes != "" {
		tags = append(tags, []string{"supersedes", fields.Supersedes})
	}
	for _, topic := range EnsureSiteTopic(fields.Topics) {
		tags = append(tags, []string{"t", topic})
	}
	return Event{
		Author:    author,
		CreatedAt: createdAt,
		Kind:      KindArticle,
		Tags:      tags,
		Content:   fields.Content,
	}
}
