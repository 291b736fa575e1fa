package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/bgross0/data-migrator-sub001/pkg/errs"
)

// MaxResponseSize is the maximum JSON-RPC response body size (10MB).
const MaxResponseSize = 10 * 1024 * 1024

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("odoo %s: %s", e.Data.Name, e.Data.Message)
	}
	return fmt.Sprintf("odoo error %d: %s", e.Code, e.Message)
}

// Server-side exceptions worth retrying: lock and serialization conflicts
// between concurrent transactions.
var transientExceptions = []string{
	"SerializationFailure",
	"LockNotAvailable",
	"TransactionRollbackError",
	"OperationalError",
}

func (e *RPCError) transient() bool {
	for _, name := range transientExceptions {
		if strings.Contains(e.Data.Name, name) {
			return true
		}
	}
	return false
}

var requestID atomic.Int64

// post sends one JSON-RPC call to /jsonrpc and classifies the failure.
func post(ctx context.Context, client *http.Client, baseURL, op, service, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      requestID.Add(1),
	})
	if err != nil {
		return nil, errs.Constraint(op, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Constraint(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Transient(op, classifyTransport(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, errs.Transient(op, fmt.Errorf("failed to read response body: %w", err))
	}
	if len(raw) > MaxResponseSize {
		return nil, errs.Constraint(op, fmt.Errorf("response body too large: %d bytes (max %d)", len(raw), MaxResponseSize))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errs.Transient(op, fmt.Errorf("odoo returned HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, errs.Constraint(op, fmt.Errorf("odoo returned HTTP %d", resp.StatusCode))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errs.Transient(op, fmt.Errorf("failed to decode response: %w", err))
	}
	if decoded.Error != nil {
		if decoded.Error.transient() {
			return nil, errs.Transient(op, decoded.Error)
		}
		return nil, errs.Constraint(op, decoded.Error)
	}
	return decoded.Result, nil
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timed out: %w", err)
	}
	return fmt.Errorf("request failed: %w", err)
}
