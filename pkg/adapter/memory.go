package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
)

// FaultFunc is consulted before every operation. A non-nil error is returned
// instead of performing the operation.
type FaultFunc func(op Op, entityType string, fields map[string]any) error

// Memory is an in-process target system. It backs dry runs and tests.
type Memory struct {
	mu       sync.RWMutex
	entities map[string]map[string]models.CanonicalEntity
	seq      int
	fault    FaultFunc
	queued   []queuedFault
	calls    map[Op]int
}

type queuedFault struct {
	op         Op
	entityType string
	err        error
	remaining  int
}

func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]map[string]models.CanonicalEntity),
		calls:    make(map[Op]int),
	}
}

// Seed inserts existing entities as they are. Ids that look numeric advance
// the id sequence so later creates never collide.
func (m *Memory) Seed(entities ...models.CanonicalEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entities {
		m.put(e)
		if n, err := strconv.Atoi(e.ID); err == nil && n > m.seq {
			m.seq = n
		}
	}
}

// LoadSnapshot seeds from a JSON array of canonical entities.
func (m *Memory) LoadSnapshot(r io.Reader) (int, error) {
	var entities []models.CanonicalEntity
	if err := json.NewDecoder(r).Decode(&entities); err != nil {
		return 0, fmt.Errorf("failed to decode canonical snapshot: %w", err)
	}
	for i, e := range entities {
		if e.EntityType == "" || e.ID == "" {
			return 0, errs.Config("snapshot entry %d needs entity_type and id", i)
		}
	}
	m.Seed(entities...)
	return len(entities), nil
}

// SetFault installs a fault hook. Pass nil to clear it.
func (m *Memory) SetFault(fn FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// FailNext makes the next n calls of op on entityType fail with err. An
// empty entityType matches every type.
func (m *Memory) FailNext(op Op, entityType string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, queuedFault{op: op, entityType: entityType, err: err, remaining: n})
}

// Calls returns how many times op was attempted, failed attempts included.
func (m *Memory) Calls(op Op) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Delete removes an entity, as a target-side cleanup would.
func (m *Memory) Delete(entityType, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities[entityType], id)
}

// Get returns a copy of the stored entity.
func (m *Memory) Get(entityType, id string) (models.CanonicalEntity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[entityType][id]
	if !ok {
		return models.CanonicalEntity{}, false
	}
	e.Fields = copyFields(e.Fields)
	return e, true
}

func (m *Memory) Count(entityType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities[entityType])
}

func (m *Memory) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before(ctx, OpCreate, entityType, fields); err != nil {
		return "", err
	}
	m.seq++
	id := strconv.Itoa(m.seq)
	m.put(models.CanonicalEntity{EntityType: entityType, ID: id, Fields: copyFields(fields)})
	return id, nil
}

func (m *Memory) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before(ctx, OpUpdate, entityType, fields); err != nil {
		return err
	}
	e, ok := m.entities[entityType][id]
	if !ok {
		return errs.Constraint(string(OpUpdate), fmt.Errorf("%s %s does not exist", entityType, id))
	}
	merged := copyFields(e.Fields)
	for k, v := range fields {
		merged[k] = v
	}
	e.Fields = merged
	m.put(e)
	return nil
}

func (m *Memory) Exists(ctx context.Context, entityType, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before(ctx, OpExists, entityType, nil); err != nil {
		return false, err
	}
	_, ok := m.entities[entityType][id]
	return ok, nil
}

func (m *Memory) Fetch(ctx context.Context, entityType string) ([]models.CanonicalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.before(ctx, OpFetch, entityType, nil); err != nil {
		return nil, err
	}
	out := make([]models.CanonicalEntity, 0, len(m.entities[entityType]))
	for _, e := range m.entities[entityType] {
		e.Fields = copyFields(e.Fields)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// before must be called with mu held.
func (m *Memory) before(ctx context.Context, op Op, entityType string, fields map[string]any) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return errs.Transient(string(op), err)
	}
	for i := range m.queued {
		q := &m.queued[i]
		if q.remaining > 0 && q.op == op && (q.entityType == "" || q.entityType == entityType) {
			q.remaining--
			return q.err
		}
	}
	if m.fault != nil {
		return m.fault(op, entityType, fields)
	}
	return nil
}

func (m *Memory) put(e models.CanonicalEntity) {
	byID, ok := m.entities[e.EntityType]
	if !ok {
		byID = make(map[string]models.CanonicalEntity)
		m.entities[e.EntityType] = byID
	}
	byID[e.ID] = e
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
