// Package metadata stores token metadata documents by content address.
package metadata

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// RefScheme prefixes every metadata reference.
const RefScheme = "ipfs://"

var rawPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// ContentID returns the CIDv1 (raw codec, sha2-256) of doc.
func ContentID(doc []byte) (cid.Cid, error) {
	c, err := rawPrefix.Sum(doc)
	if err != nil {
		return cid.Undef, fmt.Errorf("compute content id: %w", err)
	}
	return c, nil
}

// Ref returns the ipfs:// reference for doc.
func Ref(doc []byte) (string, error) {
	c, err := ContentID(doc)
	if err != nil {
		return "", err
	}
	return RefScheme + c.String(), nil
}

// ParseRef extracts and validates the content id of an ipfs:// reference.
func ParseRef(ref string) (cid.Cid, error) {
	if !strings.HasPrefix(ref, RefScheme) {
		return cid.Undef, fmt.Errorf("metadata reference %q is not %s", ref, RefScheme)
	}
	c, err := cid.Decode(strings.TrimPrefix(ref, RefScheme))
	if err != nil {
		return cid.Undef, fmt.Errorf("decode metadata reference: %w", err)
	}
	return c, nil
}

// verify checks that doc hashes to c.
func verify(c cid.Cid, doc []byte) error {
	got, err := c.Prefix().Sum(doc)
	if err != nil {
		return err
	}
	if !got.Equals(c) {
		return fmt.Errorf("content does not match %s", c)
	}
	return nil
}
