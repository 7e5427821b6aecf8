package tiercache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/tiercache/metrics"
)

// recorder is the outermost decorator: it times each operation end to end
// (guard waits and breaker rejections included) and emits one record per call.
type recorder struct {
	Cache
	sink metrics.Sink
	log  Logger
}

func newRecorder(next Cache, sink metrics.Sink, log Logger) *recorder {
	return &recorder{Cache: next, sink: sink, log: log}
}

// emit shields cache operations from a panicking sink.
func (r *recorder) emit(namespace, op, outcome string, start time.Time) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("metrics sink panicked", Fields{"op": op, "panic": p})
		}
	}()
	r.sink.RecordOp(namespace, op, outcome, time.Since(start))
}

func outcomeForErr(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrStampedeTimeout):
		return metrics.OutcomeRejected
	default:
		var degraded *DegradedWriteError
		if errors.As(err, &degraded) {
			return metrics.OutcomeDegraded
		}
		return metrics.OutcomeError
	}
}

func (r *recorder) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	start := time.Now()
	v, ok, err := r.Cache.Get(ctx, namespace, key)
	switch {
	case err != nil:
		r.emit(namespace, opGet, metrics.OutcomeError, start)
	case ok:
		r.emit(namespace, opGet, metrics.OutcomeHit, start)
	default:
		r.emit(namespace, opGet, metrics.OutcomeMiss, start)
	}
	return v, ok, err
}

func (r *recorder) GetOrCompute(ctx context.Context, namespace, key string, loader LoaderFunc, ttl time.Duration) ([]byte, error) {
	start := time.Now()
	v, err := r.Cache.GetOrCompute(ctx, namespace, key, loader, ttl)
	r.emit(namespace, opCompute, outcomeForErr(err), start)
	return v, err
}

func (r *recorder) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := r.Cache.Set(ctx, namespace, key, value, ttl)
	r.emit(namespace, opSet, outcomeForErr(err), start)
	return err
}

func (r *recorder) Delete(ctx context.Context, namespace, key string) error {
	start := time.Now()
	err := r.Cache.Delete(ctx, namespace, key)
	r.emit(namespace, opDelete, outcomeForErr(err), start)
	return err
}

func (r *recorder) Clear(ctx context.Context, namespace string) error {
	start := time.Now()
	err := r.Cache.Clear(ctx, namespace)
	r.emit(namespace, opClear, outcomeForErr(err), start)
	return err
}

func (r *recorder) Contains(ctx context.Context, namespace, key string) (bool, error) {
	start := time.Now()
	ok, err := r.Cache.Contains(ctx, namespace, key)
	switch {
	case err != nil:
		r.emit(namespace, opContains, metrics.OutcomeError, start)
	case ok:
		r.emit(namespace, opContains, metrics.OutcomeHit, start)
	default:
		r.emit(namespace, opContains, metrics.OutcomeMiss, start)
	}
	return ok, err
}

func (r *recorder) Increment(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	start := time.Now()
	v, err := r.Cache.Increment(ctx, namespace, key, delta)
	r.emit(namespace, opIncrement, outcomeForErr(err), start)
	return v, err
}

func (r *recorder) Decrement(ctx context.Context, namespace, key string, delta int64) (int64, error) {
	start := time.Now()
	v, err := r.Cache.Decrement(ctx, namespace, key, delta)
	r.emit(namespace, opDecrement, outcomeForErr(err), start)
	return v, err
}
