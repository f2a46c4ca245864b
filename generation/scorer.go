package generation

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/BaSui01/studyflow/store"
)

// DefaultSimilarityThreshold is the minimum blended score at which a
// prior entry may be reused. The comparison is inclusive.
const DefaultSimilarityThreshold = 0.90

// ScorerConfig holds the blend weights for similarity scoring.
type ScorerConfig struct {
	// CosineWeight scales the TF-IDF cosine component.
	CosineWeight float64 `json:"cosineWeight" yaml:"cosine_weight"`
	// OverlapWeight scales the token overlap component.
	OverlapWeight float64 `json:"overlapWeight" yaml:"overlap_weight"`
	// CountBonus is added when the candidate was generated for the
	// same item count as the request.
	CountBonus float64 `json:"countBonus" yaml:"count_bonus"`
}

// DefaultScorerConfig returns the standard blend weights.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		CosineWeight:  0.70,
		OverlapWeight: 0.30,
		CountBonus:    0.05,
	}
}

// SimilarityScorer ranks candidate entries against a request signature.
// Scoring is lexical: a TF-IDF cosine over the candidate corpus blended
// with a plain token overlap, plus a small bonus for matching counts.
// The corpus is rebuilt per call, so document frequencies always
// reflect the candidates actually under consideration.
type SimilarityScorer struct {
	config ScorerConfig
}

// NewSimilarityScorer creates a scorer with the given weights. Zero
// weights are replaced by the defaults.
func NewSimilarityScorer(config ScorerConfig) *SimilarityScorer {
	def := DefaultScorerConfig()
	if config.CosineWeight == 0 && config.OverlapWeight == 0 {
		config.CosineWeight = def.CosineWeight
		config.OverlapWeight = def.OverlapWeight
	}
	if config.CountBonus == 0 {
		config.CountBonus = def.CountBonus
	}
	return &SimilarityScorer{config: config}
}

// BestMatch scores every candidate against the request signature and
// returns the highest-scoring entry with its score. Ties on score go to
// the most recently created entry. Returns (nil, 0) when there are no
// candidates.
func (s *SimilarityScorer) BestMatch(signature string, count int, candidates []*store.ArtifactEntry) (*store.ArtifactEntry, float64) {
	if len(candidates) == 0 {
		return nil, 0
	}

	queryTokens := tokenize(signature)
	docs := make([][]string, 0, len(candidates)+1)
	docs = append(docs, queryTokens)
	for _, c := range candidates {
		docs = append(docs, tokenize(c.Signature))
	}
	corpus := newTFIDFCorpus(docs)
	queryVec := corpus.vector(queryTokens)

	var best *store.ArtifactEntry
	bestScore := -1.0
	for i, c := range candidates {
		cosine := cosineVector(queryVec, corpus.vector(docs[i+1]))
		overlap := tokenOverlap(queryTokens, docs[i+1])
		score := s.config.CosineWeight*cosine + s.config.OverlapWeight*overlap
		if signatureCount(c.Signature) == count {
			score += s.config.CountBonus
		}
		if score > 1.0 {
			score = 1.0
		}
		if score > bestScore || (score == bestScore && best != nil && c.CreatedAt.After(best.CreatedAt)) {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}

// tokenize lowercases the text and splits it on anything that is not a
// letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenOverlap computes the Jaccard similarity of two token sets.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// signatureCount extracts the count segment from a canonical signature.
// Returns -1 when the segment is missing or malformed.
func signatureCount(signature string) int {
	for _, part := range strings.Split(signature, "|") {
		if rest, ok := strings.CutPrefix(part, "count:"); ok {
			n, err := strconv.Atoi(rest)
			if err != nil {
				return -1
			}
			return n
		}
	}
	return -1
}

// tfidfCorpus holds inverse document frequencies for one scoring round.
type tfidfCorpus struct {
	idf map[string]float64
	n   int
}

func newTFIDFCorpus(docs [][]string) *tfidfCorpus {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, t := range doc {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				df[t]++
			}
		}
	}
	idf := make(map[string]float64, len(df))
	n := len(docs)
	for t, count := range df {
		// Smoothed IDF keeps terms present in every document from
		// vanishing entirely.
		idf[t] = math.Log(float64(1+n)/float64(1+count)) + 1
	}
	return &tfidfCorpus{idf: idf, n: n}
}

// vector builds the TF-IDF weight map for one document.
func (c *tfidfCorpus) vector(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	vec := make(map[string]float64, len(tf))
	for t, count := range tf {
		vec[t] = (count / float64(len(tokens))) * c.idf[t]
	}
	return vec
}

func cosineVector(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for t, w := range a {
		normA += w * w
		if wb, ok := b[t]; ok {
			dot += w * wb
		}
	}
	for _, w := range b {
		normB += w * w
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
