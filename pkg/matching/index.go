package matching

import (
	"sort"
	"strings"
	"sync"

	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/normalizers"
)

// Entry is a canonical entity as seen by the matcher: its id and normalized values.
type Entry struct {
	ID     string
	Values map[string]normalizers.Value
}

// Index is the canonical index the engine matches against, one namespace per
// entity type.
type Index interface {
	// ByKey returns the canonical ids whose natural key equals key, sorted.
	ByKey(entityType, key string) []string
	// Candidates returns the entries sharing at least one blocking token, sorted
	// by id. A nil token list returns every entry of the type.
	Candidates(entityType string, tokens []string) []Entry
	// Add indexes an entry under the keys and blocking tokens of spec. Adding
	// an id again replaces the keys and tokens it was filed under before.
	Add(spec models.EntityTypeSpec, entry Entry)
	Len(entityType string) int
}

// MemoryIndex is an Index held in process memory.
type MemoryIndex struct {
	mu    sync.RWMutex
	types map[string]*typeIndex
}

type typeIndex struct {
	entries map[string]Entry
	keys    map[string]map[string]struct{}
	blocks  map[string]map[string]struct{}
	// keys and tokens each id is currently filed under
	idKeys   map[string][]string
	idTokens map[string][]string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{types: make(map[string]*typeIndex)}
}

func (m *MemoryIndex) ByKey(entityType, key string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ti, ok := m.types[entityType]
	if !ok {
		return nil
	}
	return sortedIDs(ti.keys[key])
}

func (m *MemoryIndex) Candidates(entityType string, tokens []string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ti, ok := m.types[entityType]
	if !ok {
		return nil
	}

	ids := make(map[string]struct{})
	if tokens == nil {
		for id := range ti.entries {
			ids[id] = struct{}{}
		}
	}
	for _, tok := range tokens {
		for id := range ti.blocks[tok] {
			ids[id] = struct{}{}
		}
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		entries = append(entries, ti.entries[id])
	}
	return entries
}

func (m *MemoryIndex) Add(spec models.EntityTypeSpec, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ti, ok := m.types[spec.Name]
	if !ok {
		ti = &typeIndex{
			entries:  make(map[string]Entry),
			keys:     make(map[string]map[string]struct{}),
			blocks:   make(map[string]map[string]struct{}),
			idKeys:   make(map[string][]string),
			idTokens: make(map[string][]string),
		}
		m.types[spec.Name] = ti
	}

	for _, key := range ti.idKeys[entry.ID] {
		removeFrom(ti.keys, key, entry.ID)
	}
	for _, tok := range ti.idTokens[entry.ID] {
		removeFrom(ti.blocks, tok, entry.ID)
	}

	keys := NaturalKeys(spec, entry.Values)
	tokens := BlockingTokens(spec, entry.Values)
	ti.entries[entry.ID] = entry
	ti.idKeys[entry.ID] = keys
	ti.idTokens[entry.ID] = tokens
	for _, key := range keys {
		addTo(ti.keys, key, entry.ID)
	}
	for _, tok := range tokens {
		addTo(ti.blocks, tok, entry.ID)
	}
}

func (m *MemoryIndex) Len(entityType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ti, ok := m.types[entityType]; ok {
		return len(ti.entries)
	}
	return 0
}

func addTo(set map[string]map[string]struct{}, key, id string) {
	ids, ok := set[key]
	if !ok {
		ids = make(map[string]struct{})
		set[key] = ids
	}
	ids[id] = struct{}{}
}

func removeFrom(set map[string]map[string]struct{}, key, id string) {
	ids, ok := set[key]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(set, key)
	}
}

func sortedIDs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Key builds the natural key for fields. It fails when any component is
// missing or degraded.
func Key(fields []string, values map[string]normalizers.Value) (string, bool) {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v := values[f]
		if !v.Usable() {
			return "", false
		}
		parts[i] = v.Text
	}
	return strings.Join(fields, "+") + "=" + strings.Join(parts, "\x1f"), true
}

// NaturalKeys lists every key the values produce across all strategies.
func NaturalKeys(spec models.EntityTypeSpec, values map[string]normalizers.Value) []string {
	var keys []string
	for _, strategy := range spec.NaturalKeys {
		for _, fields := range strategy.Expand() {
			if key, ok := Key(fields, values); ok {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// BlockingTokens derives candidate-generation tokens from the blocking fields:
// every normalized token of at least two characters and the three-character
// prefix of the whole value.
func BlockingTokens(spec models.EntityTypeSpec, values map[string]normalizers.Value) []string {
	var tokens []string
	for _, field := range spec.Match.Blocking {
		v := values[field]
		if !v.Usable() {
			continue
		}
		for _, tok := range strings.Fields(v.Text) {
			if len([]rune(tok)) >= 2 {
				tokens = append(tokens, field+":t:"+tok)
			}
		}
		if r := []rune(v.Text); len(r) >= 3 {
			tokens = append(tokens, field+":p:"+string(r[:3]))
		}
	}
	return tokens
}

// NewEntry normalizes the raw fields of a canonical entity for indexing.
func NewEntry(spec models.EntityTypeSpec, entity models.CanonicalEntity, opts normalizers.Options) Entry {
	n := normalizers.NormalizeRecord(models.SourceRecord{EntityType: spec.Name, Fields: entity.Fields}, spec, opts)
	return Entry{ID: entity.ID, Values: n.Values}
}

// Seed loads existing canonical entities into idx and returns how many were added.
func Seed(idx Index, spec models.EntityTypeSpec, entities []models.CanonicalEntity, opts normalizers.Options) int {
	for _, e := range entities {
		idx.Add(spec, NewEntry(spec, e, opts))
	}
	return len(entities)
}
