package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key is the canonical identity of a request: the human-readable
// signature plus the SHA-256 hash used for exact lookups and lock keys.
type Key struct {
	Signature string
	Hash      string
}

// KeyBuilder derives deterministic cache keys from requests. Two
// requests that differ only in the ordering of their sets produce the
// same key. The builder is stateless and safe for concurrent use.
type KeyBuilder struct{}

// NewKeyBuilder creates a key builder.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// Build computes the signature and hash for a validated request.
//
// The signature has the form
//
//	scope|count:5|types:Multiple Choice,Short Answer|bloom:Apply,Remember|diff:E0.3_M0.5_H0.2
//
// with every set segment sorted. The bloom and diff segments are
// omitted when the request carries no bloom levels or distribution.
func (b *KeyBuilder) Build(req Request) Key {
	sig := b.Signature(req)
	sum := sha256.Sum256([]byte(req.Scope + "|" + sig))
	return Key{Signature: sig, Hash: hex.EncodeToString(sum[:])}
}

// Signature renders the canonical signature without hashing it.
func (b *KeyBuilder) Signature(req Request) string {
	parts := []string{
		req.Scope,
		"count:" + strconv.Itoa(req.Count),
		"types:" + strings.Join(req.sortedTypes(), ","),
	}
	if len(req.BloomLevels) > 0 {
		parts = append(parts, "bloom:"+strings.Join(req.sortedBloomLevels(), ","))
	}
	if len(req.Distribution) > 0 {
		parts = append(parts, "diff:"+formatDistribution(req.Distribution))
	}
	return strings.Join(parts, "|")
}

// distributionBandOrder fixes the rendering order of the well-known
// difficulty bands. Unknown bands follow alphabetically.
var distributionBandOrder = []string{"Easy", "Medium", "Hard"}

func formatDistribution(dist map[string]float64) string {
	seen := make(map[string]bool, len(dist))
	segments := make([]string, 0, len(dist))
	for _, band := range distributionBandOrder {
		if weight, ok := dist[band]; ok {
			segments = append(segments, distributionSegment(band, weight, true))
			seen[band] = true
		}
	}
	extra := make([]string, 0)
	for band := range dist {
		if !seen[band] {
			extra = append(extra, band)
		}
	}
	sort.Strings(extra)
	for _, band := range extra {
		segments = append(segments, distributionSegment(band, dist[band], false))
	}
	return strings.Join(segments, "_")
}

func distributionSegment(band string, weight float64, abbreviate bool) string {
	label := band
	if abbreviate {
		label = band[:1]
	}
	return fmt.Sprintf("%s%s", label, strconv.FormatFloat(weight, 'f', 1, 64))
}
