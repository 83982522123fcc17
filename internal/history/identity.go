package history

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

type domainKey [32]byte

func newDomainKey(name string) domainKey {
	var k domainKey
	copy(k[:], name)
	return k
}

// Fixed keys; changing either one changes every commit id.
var (
	changeDomainKey = newDomainKey("gitent.history.change")
	commitDomainKey = newDomainKey("gitent.history.commit")
)

// Core Deterministic Encoding: same logical value, same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("history: CBOR encoder initialization failed: " + err.Error())
	}
}

type changeRecord struct {
	_          struct{} `cbor:",toarray"`
	Path       string
	Kind       string
	PriorPath  string
	BeforeHash string
	AfterHash  string
}

type commitRecord struct {
	_         struct{} `cbor:",toarray"`
	Parent    string
	Changes   [][]byte
	Message   string
	Author    string
	Timestamp int64
}

func keyedHash(key domainKey, data []byte) []byte {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("history: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}

// ComputeID derives the commit id from the parent, the ordered changes,
// the message, the author and the UTC timestamp. The agent id is not
// part of the identity.
func ComputeID(c Commit) (string, error) {
	rec := commitRecord{
		Parent:    c.Parent,
		Changes:   make([][]byte, 0, len(c.Changes)),
		Message:   c.Message,
		Author:    c.Author,
		Timestamp: c.Timestamp.UTC().UnixNano(),
	}

	for i, ch := range c.Changes {
		data, err := encMode.Marshal(changeRecord{
			Path:       ch.Path,
			Kind:       string(ch.Kind),
			PriorPath:  ch.PriorPath,
			BeforeHash: ch.BeforeHash,
			AfterHash:  ch.AfterHash,
		})
		if err != nil {
			return "", fmt.Errorf("encoding change %d: %w", i, err)
		}
		rec.Changes = append(rec.Changes, keyedHash(changeDomainKey, data))
	}

	data, err := encMode.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding commit: %w", err)
	}
	return hex.EncodeToString(keyedHash(commitDomainKey, data)), nil
}
