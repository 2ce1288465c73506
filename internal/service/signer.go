package service

import (
	"context"
	"crypto/ecdsa"

	"github.com/imprint-pub/imprint"
)

// LocalSigner signs events with the node's own key held in memory. The key
// never leaves this struct; callers only see the derived author key.
type LocalSigner struct {
	priv      *ecdsa.PrivateKey
	authorKey string
}

func NewLocalSigner(secret string) (*LocalSigner, error) {
	priv, err := imprint.ParseSecret(secret)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{
		priv:      priv,
		authorKey: imprint.PubkeyHex(priv),
	}, nil
}

func (s *LocalSigner) AuthorKey() string {
	return s.authorKey
}

func (s *LocalSigner) Sign(ctx context.Context, ev *imprint.Event) error {
	return imprint.Sign(ev, s.priv)
}

func (s *LocalSigner) Key() *ecdsa.PrivateKey {
	return s.priv
}
