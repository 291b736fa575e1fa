package executor

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"github.com/bgross0/data-migrator-sub001/pkg/adapter"
	"github.com/bgross0/data-migrator-sub001/pkg/errs"
	"github.com/bgross0/data-migrator-sub001/pkg/metrics"
	"github.com/bgross0/data-migrator-sub001/pkg/models"
	"github.com/bgross0/data-migrator-sub001/pkg/validation"
)

// write calls fn with a per-call timeout and retries transient failures with
// exponential backoff. Anything that is not transient stops the retries. It
// returns the number of attempts made.
func (e *Executor) write(ctx context.Context, entityType string, op adapter.Op, fn func(ctx context.Context) error) (int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.InitialBackoff
	policy.MaxInterval = e.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if attempts > 1 {
			metrics.WriteRetriesTotal.WithLabelValues(entityType, string(op)).Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errs.IsTransient(err) && !errs.IsPermanent(err) {
			err = errs.Transient(string(op), err)
		}
		if errs.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.MaxRetries)), ctx))

	return attempts, err
}

// Payload builds the fields written to the target: the source fields with
// every resolved reference replaced by the target id. A polymorphic
// reference also carries its type in the <field>_type companion.
func Payload(rec models.SourceRecord, spec models.EntityTypeSpec, refs []validation.ResolvedRef) map[string]any {
	payload := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		payload[k] = v
	}

	resolved := make(map[string]validation.ResolvedRef, len(refs))
	for _, r := range refs {
		resolved[r.Field] = r
	}
	for _, fk := range spec.ForeignKeys {
		r, ok := resolved[fk.Field]
		if !ok {
			delete(payload, fk.Field)
			if fk.Polymorphic() {
				delete(payload, fk.TypeField())
			}
			continue
		}
		payload[fk.Field] = r.CanonicalID
		if fk.Polymorphic() {
			payload[fk.TypeField()] = r.TargetType
		}
	}
	return payload
}
