package generation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/BaSui01/studyflow/types"
)

// Default parameter sets applied by the request constructors when the
// caller leaves a field empty.
var (
	DefaultQuestionTypes = []string{"Multiple Choice", "Short Answer", "True/False"}
	DefaultBloomLevels   = []string{"Remember", "Understand", "Apply", "Analyze"}
	DefaultDistribution  = map[string]float64{"Easy": 0.3, "Medium": 0.5, "Hard": 0.2}
)

// distributionTolerance is the slack allowed when checking that a
// difficulty distribution sums to 1.0.
const distributionTolerance = 0.01

// Request describes one generation demand. Scope partitions the cache
// (no lookup ever crosses scopes), Count is the number of items wanted,
// and Types, BloomLevels and Distribution shape what gets generated.
//
// A Request is treated as immutable once it passes Validate. Constructors
// copy every slice and map they receive.
type Request struct {
	Scope        string             `json:"scope"`
	Count        int                `json:"count"`
	Types        []string           `json:"types"`
	BloomLevels  []string           `json:"bloomLevels,omitempty"`
	Distribution map[string]float64 `json:"distribution,omitempty"`
}

// NewQuestionRequest builds a question-set request scoped to a single
// source document. Empty parameter sets fall back to the defaults.
func NewQuestionRequest(contentID string, count int, questionTypes, bloomLevels []string, distribution map[string]float64) Request {
	if count <= 0 {
		count = 5
	}
	if len(questionTypes) == 0 {
		questionTypes = DefaultQuestionTypes
	}
	if len(bloomLevels) == 0 {
		bloomLevels = DefaultBloomLevels
	}
	if len(distribution) == 0 {
		distribution = DefaultDistribution
	}
	return Request{
		Scope:        strings.TrimSpace(contentID),
		Count:        count,
		Types:        copyStrings(questionTypes),
		BloomLevels:  copyStrings(bloomLevels),
		Distribution: copyDistribution(distribution),
	}
}

// NewContentRequest builds a study-content request. The scope is a
// composite of topic, difficulty, subject and content type so that the
// same topic at a different difficulty never collides. Learning
// objectives play the role of categories for similarity scoring.
func NewContentRequest(topic, difficulty, subject, contentType string, objectives []string) Request {
	scope := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(topic)),
		strings.ToLower(strings.TrimSpace(difficulty)),
		strings.ToLower(strings.TrimSpace(subject)),
		strings.ToLower(strings.TrimSpace(contentType)),
	}, ":")
	if len(objectives) == 0 {
		objectives = []string{"general"}
	}
	return Request{
		Scope: scope,
		Count: 1,
		Types: copyStrings(objectives),
	}
}

// Validate checks the request contract. Violations are reported as
// non-retryable INVALID_REQUEST errors.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Scope) == "" {
		return types.NewError(types.ErrInvalidRequest, "scope must not be empty")
	}
	if r.Count <= 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("count must be positive, got %d", r.Count))
	}
	if len(r.Types) == 0 {
		return types.NewError(types.ErrInvalidRequest, "at least one type is required")
	}
	for _, t := range r.Types {
		if strings.TrimSpace(t) == "" {
			return types.NewError(types.ErrInvalidRequest, "types must not contain empty entries")
		}
	}
	if len(r.Distribution) > 0 {
		sum := 0.0
		for band, weight := range r.Distribution {
			if weight < 0 || weight > 1 {
				return types.NewError(types.ErrInvalidRequest,
					fmt.Sprintf("distribution weight for %q must be in [0,1], got %g", band, weight))
			}
			sum += weight
		}
		if math.Abs(sum-1.0) > distributionTolerance {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("distribution weights must sum to 1.0, got %g", sum))
		}
	}
	return nil
}

// sortedTypes returns the type set in canonical order.
func (r Request) sortedTypes() []string {
	out := copyStrings(r.Types)
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	sort.Strings(out)
	return out
}

// sortedBloomLevels returns the bloom set in canonical order.
func (r Request) sortedBloomLevels() []string {
	out := copyStrings(r.BloomLevels)
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	sort.Strings(out)
	return out
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyDistribution(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
