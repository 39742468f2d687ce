package truncate

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
)

// Scheme is the URI scheme used for opaque output handles.
const Scheme = "ainulindale"

// HandleStore holds oversized tool output under opaque handles, retrievable
// byte-for-byte by path (spec §4.12, §8.3 scenario S5). Backed by an LRU
// cache so long-running boards bound memory use instead of retaining every
// oversized result forever.
type HandleStore struct {
	cache *lru.Cache[string, string]
}

// NewHandleStore creates a store holding up to capacity entries.
func NewHandleStore(capacity int) *HandleStore {
	if capacity <= 0 {
		capacity = 256
	}
	c, err := lru.New[string, string](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, already guarded above.
		panic(fmt.Sprintf("truncate: failed to create handle store: %v", err))
	}
	return &HandleStore{cache: c}
}

// Put stores content under a freshly minted handle and returns the
// file-reference Descriptor describing it.
func (h *HandleStore) Put(content string) Descriptor {
	id := uuid.NewString()
	path := fmt.Sprintf("%s://outputs/%s", Scheme, id)
	h.cache.Add(path, content)
	return Descriptor{
		Type:    "file_reference",
		Size:    len(content),
		Path:    path,
		Preview: Preview(content),
	}
}

// Get retrieves content by handle path, unchanged byte-for-byte from Put.
func (h *HandleStore) Get(path string) (string, bool) {
	return h.cache.Get(path)
}

// ApplyResult is what callers (the output-processing layer of the tool-call
// loop, spec §4.9) run over a finished tool result string: above
// FileReferenceThreshold it is stored by handle and a Descriptor is
// returned; otherwise it is truncated per category and returned as plain
// text.
func (h *HandleStore) ApplyResult(category, content string) any {
	if len(content) > FileReferenceThreshold {
		return h.Put(content)
	}
	return Truncate(content, LimitsFor(category))
}

// ApplyResultToFields runs ApplyResult over every string-valued entry of a
// plugin result map (e.g. filesystem's "content", shell's "stdout"/
// "stderr"), leaving non-string fields untouched. Used by the Agent
// Actor's tool-call loop before a result is appended as a tool message
// (spec §4.9 step 3.b "apply output truncation").
func (h *HandleStore) ApplyResultToFields(category string, value map[string]any) map[string]any {
	out := make(map[string]any, len(value))
	for k, v := range value {
		if s, ok := v.(string); ok {
			out[k] = h.ApplyResult(category, s)
			continue
		}
		out[k] = v
	}
	return out
}
