package odoo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
)

type call struct {
	Service string
	Method  string
	Model   string
	Args    []any
	Kwargs  map[string]any
}

// fakeOdoo answers JSON-RPC calls from a handler keyed by model method.
type fakeOdoo struct {
	mu      sync.Mutex
	calls   []call
	handler func(c call) (any, *RPCError, int)
}

func (f *fakeOdoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c := call{Service: req.Params.Service, Method: req.Params.Method}
	if c.Service == "object" {
		c.Model, _ = req.Params.Args[3].(string)
		c.Method, _ = req.Params.Args[4].(string)
		c.Args, _ = req.Params.Args[5].([]any)
		c.Kwargs, _ = req.Params.Args[6].(map[string]any)
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if c.Service == "common" && c.Method == "login" {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 7})
		return
	}

	result, rpcErr, status := f.handler(c)
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeOdoo) objectCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Service == "object" {
			out = append(out, c)
		}
	}
	return out
}

func newTestAdapter(t *testing.T, fake *fakeOdoo, mutate func(*Config)) *Adapter {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := Config{
		URL:               srv.URL,
		Database:          "crm",
		Username:          "migrator",
		Password:          "secret",
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return New(cfg, srv.Client(), logger)
}

func rpcError(name, message string) *RPCError {
	e := &RPCError{Code: 200, Message: "Odoo Server Error"}
	e.Data.Name = name
	e.Data.Message = message
	return e
}

func TestAdapter_CreateMapsFieldsAndRelations(t *testing.T) {
	fake := &fakeOdoo{handler: func(c call) (any, *RPCError, int) {
		return 42, nil, 0
	}}
	a := newTestAdapter(t, fake, nil)

	id, err := a.Create(context.Background(), "person", map[string]any{
		"name":         "Jane Doe",
		"organization": "17",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	calls := fake.objectCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "res.partner", calls[0].Model)
	assert.Equal(t, "create", calls[0].Method)

	values := calls[0].Args[0].(map[string]any)
	assert.Equal(t, "Jane Doe", values["name"])
	assert.Equal(t, float64(17), values["parent_id"], "many2one ids are sent as integers")
	assert.NotContains(t, values, "organization")
}

func TestAdapter_UpdateAndExists(t *testing.T) {
	fake := &fakeOdoo{handler: func(c call) (any, *RPCError, int) {
		switch c.Method {
		case "write":
			return true, nil, 0
		case "search_count":
			return 1, nil, 0
		}
		return nil, rpcError("builtins.ValueError", "unexpected method"), 0
	}}
	a := newTestAdapter(t, fake, nil)
	ctx := context.Background()

	require.NoError(t, a.Update(ctx, "organization", "5", map[string]any{"phone": "+33142685300"}))

	exists, err := a.Exists(ctx, "organization", "5")
	require.NoError(t, err)
	assert.True(t, exists)

	calls := fake.objectCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, []any{float64(5)}, calls[0].Args[0])

	domain := calls[1].Args[0].([]any)
	assert.Equal(t, []any{"id", "=", float64(5)}, domain[0])
	assert.Equal(t, []any{"is_company", "=", true}, domain[1])
	assert.Equal(t, map[string]any{"active_test": false}, calls[1].Kwargs["context"])
}

func TestAdapter_FetchPaginatesAndFlattens(t *testing.T) {
	rows := []map[string]any{
		{"id": 1, "name": "Acme", "vat": "DE123", "country_id": []any{76, "France"}},
		{"id": 2, "name": "Globex", "vat": false, "country_id": false},
		{"id": 3, "name": "Initech", "vat": "FR99", "country_id": []any{233, "United States"}},
	}
	fake := &fakeOdoo{handler: func(c call) (any, *RPCError, int) {
		offset := int(c.Kwargs["offset"].(float64))
		limit := int(c.Kwargs["limit"].(float64))
		end := min(offset+limit, len(rows))
		if offset >= len(rows) {
			return []any{}, nil, 0
		}
		return rows[offset:end], nil, 0
	}}
	a := newTestAdapter(t, fake, func(c *Config) { c.PageSize = 2 })

	entities, err := a.Fetch(context.Background(), "organization")
	require.NoError(t, err)
	require.Len(t, entities, 3)
	assert.Len(t, fake.objectCalls(), 2)

	assert.Equal(t, "1", entities[0].ID)
	assert.Equal(t, "organization", entities[0].EntityType)
	assert.Equal(t, "76", entities[0].Fields["country"], "many2one pairs flatten to the id under the engine field name")
	assert.NotContains(t, entities[1].Fields, "vat", "false marks an unset field")
}

func TestAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		rpcErr    *RPCError
		status    int
		transient bool
	}{
		{"validation error is permanent", rpcError("odoo.exceptions.ValidationError", "VAT number is invalid"), 0, false},
		{"access error is permanent", rpcError("odoo.exceptions.AccessError", "not allowed"), 0, false},
		{"serialization failure is transient", rpcError("psycopg2.errors.SerializationFailure", "could not serialize access"), 0, true},
		{"service unavailable is transient", nil, http.StatusServiceUnavailable, true},
		{"rate limited is transient", nil, http.StatusTooManyRequests, true},
		{"not found is permanent", nil, http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeOdoo{handler: func(c call) (any, *RPCError, int) {
				return nil, tt.rpcErr, tt.status
			}}
			a := newTestAdapter(t, fake, nil)

			_, err := a.Create(context.Background(), "organization", map[string]any{"name": "Acme"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, errs.IsTransient(err))
			assert.Equal(t, !tt.transient, errs.IsPermanent(err))
		})
	}
}

func TestAdapter_TimeoutIsTransient(t *testing.T) {
	fake := &fakeOdoo{handler: func(c call) (any, *RPCError, int) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil, 0
	}}
	a := newTestAdapter(t, fake, func(c *Config) { c.Timeout = 20 * time.Millisecond })
	a.uid = 7

	_, err := a.Create(context.Background(), "organization", map[string]any{"name": "Acme"})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestAdapter_BreakerOpensOnTransientFailures(t *testing.T) {
	fake := &fakeOdoo{handler: func(c call) (any, *RPCError, int) {
		return nil, nil, http.StatusBadGateway
	}}
	a := newTestAdapter(t, fake, func(c *Config) {
		c.BreakerFailures = 2
		c.BreakerTimeout = time.Minute
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := a.Create(ctx, "tag", map[string]any{"name": "vip"})
		require.True(t, errs.IsTransient(err))
	}
	assert.Equal(t, gobreaker.StateOpen, a.BreakerState())

	_, err := a.Create(ctx, "tag", map[string]any{"name": "vip"})
	assert.True(t, errs.IsTransient(err))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Len(t, fake.objectCalls(), 2, "an open breaker short-circuits the call")
}

func TestAdapter_RejectionsDoNotTripBreaker(t *testing.T) {
	fake := &fakeOdoo{handler: func(c call) (any, *RPCError, int) {
		return nil, rpcError("odoo.exceptions.UserError", "duplicate"), 0
	}}
	a := newTestAdapter(t, fake, func(c *Config) { c.BreakerFailures = 1 })

	for i := 0; i < 3; i++ {
		_, err := a.Create(context.Background(), "tag", map[string]any{"name": "vip"})
		require.True(t, errs.IsPermanent(err))
	}
	assert.Equal(t, gobreaker.StateClosed, a.BreakerState())
}

func TestAdapter_UnmappedEntityType(t *testing.T) {
	a := newTestAdapter(t, &fakeOdoo{}, nil)
	_, err := a.Create(context.Background(), "invoice", nil)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestAdapter_NonNumericID(t *testing.T) {
	a := newTestAdapter(t, &fakeOdoo{}, nil)
	_, err := a.Exists(context.Background(), "organization", "abc")
	assert.True(t, errs.IsPermanent(err))
}
