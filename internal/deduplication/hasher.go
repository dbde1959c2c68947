package deduplication

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"eventdesk/pkg/models"
)

// Hasher derives the redelivery key of an envelope from its id, type,
// source and payload.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

func (h *Hasher) newHash() hash.Hash {
	if h.algorithm == "md5" {
		return md5.New()
	}
	return sha256.New()
}

func (h *Hasher) Sum(msg models.MessageEnvelope) (string, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload of message %s: %w", msg.ID, err)
	}

	sum := h.newHash()
	fmt.Fprintf(sum, "%s|%s|%s|", msg.ID, msg.Type, msg.Source)
	sum.Write(payload)
	return hex.EncodeToString(sum.Sum(nil)), nil
}
