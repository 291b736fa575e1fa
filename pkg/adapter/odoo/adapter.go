// Package odoo writes canonical entities into Odoo through its JSON-RPC
// execute_kw endpoint.
package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bgross0/data-migrator-sub001/pkg/adapter"
	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/tracing"
)

// Adapter implements adapter.Adapter against an Odoo server.
type Adapter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  ectologger.Logger

	loginMu sync.Mutex
	uid     int
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an Odoo adapter. The login happens on first use.
func New(cfg Config, httpClient *http.Client, logger ectologger.Logger) *Adapter {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		}
	}

	a := &Adapter{
		cfg:     cfg,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}

	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "odoo",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Rejections prove the server is up; only transient failures trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errs.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.WithContext(context.Background()).WithFields(map[string]any{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("odoo").Set(float64(gobreaker.StateClosed))

	return a
}

// BreakerState reports the circuit breaker state for health checks.
func (a *Adapter) BreakerState() gobreaker.State {
	return a.breaker.State()
}

func (a *Adapter) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "odoo.Adapter.Create")
	defer span.End()

	mapping, err := a.mapping(entityType)
	if err != nil {
		return "", err
	}

	raw, err := a.executeKw(ctx, adapter.OpCreate, mapping.Model, "create", []any{mapping.toOdoo(fields)}, nil)
	if err != nil {
		return "", err
	}

	var id int
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", errs.Constraint(string(adapter.OpCreate), fmt.Errorf("unexpected create result %s: %w", raw, err))
	}
	return strconv.Itoa(id), nil
}

func (a *Adapter) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "odoo.Adapter.Update")
	defer span.End()

	mapping, err := a.mapping(entityType)
	if err != nil {
		return err
	}
	recordID, err := parseID(adapter.OpUpdate, id)
	if err != nil {
		return err
	}

	_, err = a.executeKw(ctx, adapter.OpUpdate, mapping.Model, "write", []any{[]int{recordID}, mapping.toOdoo(fields)}, nil)
	return err
}

func (a *Adapter) Exists(ctx context.Context, entityType, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "odoo.Adapter.Exists")
	defer span.End()

	mapping, err := a.mapping(entityType)
	if err != nil {
		return false, err
	}
	recordID, err := parseID(adapter.OpExists, id)
	if err != nil {
		return false, err
	}

	domain := append([]any{[]any{"id", "=", recordID}}, mapping.Domain...)
	raw, err := a.executeKw(ctx, adapter.OpExists, mapping.Model, "search_count", []any{domain}, inactiveToo())
	if err != nil {
		return false, err
	}

	var count int
	if err := json.Unmarshal(raw, &count); err != nil {
		return false, errs.Constraint(string(adapter.OpExists), fmt.Errorf("unexpected search_count result %s: %w", raw, err))
	}
	return count > 0, nil
}

func (a *Adapter) Fetch(ctx context.Context, entityType string) ([]models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "odoo.Adapter.Fetch")
	defer span.End()

	mapping, err := a.mapping(entityType)
	if err != nil {
		return nil, err
	}

	var out []models.CanonicalEntity
	for offset := 0; ; offset += a.cfg.PageSize {
		kwargs := inactiveToo()
		kwargs["fields"] = mapping.readFields()
		kwargs["offset"] = offset
		kwargs["limit"] = a.cfg.PageSize
		kwargs["order"] = "id"

		domain := mapping.Domain
		if domain == nil {
			domain = []any{}
		}
		raw, err := a.executeKw(ctx, adapter.OpFetch, mapping.Model, "search_read", []any{domain}, kwargs)
		if err != nil {
			return nil, err
		}

		var rows []map[string]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, errs.Constraint(string(adapter.OpFetch), fmt.Errorf("unexpected search_read result: %w", err))
		}
		for _, row := range rows {
			out = append(out, mapping.fromOdoo(entityType, row))
		}
		if len(rows) < a.cfg.PageSize {
			break
		}
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": entityType,
		"model":       mapping.Model,
		"count":       len(out),
	}).Debug("Fetched canonical entities")

	return out, nil
}

func (a *Adapter) mapping(entityType string) (ModelMapping, error) {
	m, ok := a.cfg.Models[entityType]
	if !ok || m.Model == "" {
		return ModelMapping{}, errs.Config("no Odoo model mapped for entity type %q", entityType)
	}
	return m, nil
}

func (a *Adapter) executeKw(ctx context.Context, op adapter.Op, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, err := a.login(ctx)
	if err != nil {
		return nil, err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return a.call(ctx, op, "object", "execute_kw", []any{a.cfg.Database, uid, a.cfg.Password, model, method, args, kwargs})
}

func (a *Adapter) login(ctx context.Context) (int, error) {
	a.loginMu.Lock()
	defer a.loginMu.Unlock()
	if a.uid != 0 {
		return a.uid, nil
	}

	raw, err := a.call(ctx, "login", "common", "login", []any{a.cfg.Database, a.cfg.Username, a.cfg.Password})
	if err != nil {
		return 0, err
	}
	var uid int
	if err := json.Unmarshal(raw, &uid); err != nil || uid == 0 {
		return 0, errs.Config("odoo login failed for %s on database %s", a.cfg.Username, a.cfg.Database)
	}

	a.uid = uid
	a.logger.WithContext(ctx).Infof("Logged in to Odoo %s as uid %d", a.cfg.URL, uid)
	return uid, nil
}

// call applies the rate limit, the per-call timeout and the circuit breaker
// around one JSON-RPC request.
func (a *Adapter) call(ctx context.Context, op adapter.Op, service, method string, args []any) (json.RawMessage, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, errs.Transient(string(op), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	result, err := a.breaker.Execute(func() (any, error) {
		return post(callCtx, a.client, a.cfg.URL, string(op), service, method, args)
	})
	metrics.WriteDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errs.Transient(string(op), err)
	}
	if err != nil {
		a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"op":     op,
			"method": method,
		}).Warn("Odoo call failed")
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func parseID(op adapter.Op, id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, errs.Constraint(string(op), fmt.Errorf("odoo ids are integers, got %q", id))
	}
	return n, nil
}

func inactiveToo() map[string]any {
	return map[string]any{"context": map[string]any{"active_test": false}}
}

func (m ModelMapping) odooField(field string) string {
	if name, ok := m.Fields[field]; ok {
		return name
	}
	return field
}

func (m ModelMapping) isRelation(odooField string) bool {
	for _, r := range m.Relations {
		if r == odooField {
			return true
		}
	}
	return false
}

func (m ModelMapping) toOdoo(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		name := m.odooField(k)
		if s, ok := v.(string); ok && m.isRelation(name) {
			if n, err := strconv.Atoi(s); err == nil {
				v = n
			}
		}
		out[name] = v
	}
	return out
}

func (m ModelMapping) readFields() []string {
	if len(m.Read) > 0 {
		return m.Read
	}
	seen := make(map[string]struct{})
	var fields []string
	for _, f := range m.Fields {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}

func (m ModelMapping) fromOdoo(entityType string, row map[string]any) models.CanonicalEntity {
	reverse := make(map[string]string, len(m.Fields))
	for engine, odoo := range m.Fields {
		if existing, ok := reverse[odoo]; !ok || engine < existing {
			reverse[odoo] = engine
		}
	}

	e := models.CanonicalEntity{EntityType: entityType, Fields: make(map[string]any, len(row))}
	for k, v := range row {
		if k == "id" {
			if f, ok := v.(float64); ok {
				e.ID = strconv.Itoa(int(f))
			}
			continue
		}
		// Odoo reports unset fields as false.
		if b, ok := v.(bool); ok && !b && k != "active" {
			continue
		}
		if pair, ok := v.([]any); ok && len(pair) == 2 {
			if id, ok := pair[0].(float64); ok {
				v = strconv.Itoa(int(id))
			}
		}
		name := k
		if engine, ok := reverse[k]; ok {
			name = engine
		}
		e.Fields[name] = v
	}
	return e
}
