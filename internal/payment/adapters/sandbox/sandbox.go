// Package sandbox is an in-memory processor used in development and tests.
// It honors idempotency keys and simulates outcomes from the amount: any
// amount ending in 99 cents is declined, any amount ending in 98 cents stays
// pending until polled a second time.
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samujjwal/rental-sub004/internal/payment/domain"
	"github.com/samujjwal/rental-sub004/internal/payment/gateway"
)

const provider = "sandbox"

type factory struct{}

func Factory() gateway.Factory { return factory{} }

func (factory) Provider() string { return provider }

func (factory) New(_ gateway.Config) (gateway.Gateway, error) {
	return New(), nil
}

type Adapter struct {
	mu      sync.Mutex
	results map[string]gateway.Result
	polls   map[string]int
}

func New() *Adapter {
	return &Adapter{
		results: map[string]gateway.Result{},
		polls:   map[string]int{},
	}
}

func (a *Adapter) Authorize(_ context.Context, key, bookingID string, amount int64, _ string) (gateway.Result, error) {
	return a.apply(key, "pi_"+bookingID+"_"+uuid.NewString(), amount)
}

func (a *Adapter) Capture(_ context.Context, key, intentID string, amount int64) (gateway.Result, error) {
	return a.apply(key, intentID, amount)
}

func (a *Adapter) Refund(_ context.Context, key, intentID string, amount int64) (gateway.Result, error) {
	return a.apply(key, fmt.Sprintf("re_%s_%s", intentID, key), amount)
}

func (a *Adapter) Transfer(_ context.Context, key, ownerID string, amount int64, _ string) (gateway.Result, error) {
	return a.apply(key, fmt.Sprintf("tr_%s_%s", ownerID, key), amount)
}

// IntentStatus resolves a simulated pending intent on its second poll.
func (a *Adapter) IntentStatus(_ context.Context, intentID string) (gateway.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.polls[intentID]++
	if a.polls[intentID] < 2 {
		return gateway.Result{Reference: intentID, Status: domain.MovementPending}, domain.ErrExternalPending
	}
	return gateway.Result{Reference: intentID, Status: domain.MovementSucceeded}, nil
}

func (a *Adapter) apply(key, reference string, amount int64) (gateway.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if res, ok := a.results[key]; ok {
		return res, resultErr(res)
	}

	res := gateway.Result{Reference: reference, Status: domain.MovementSucceeded}
	switch amount % 100 {
	case 99:
		res.Status = domain.MovementFailed
	case 98:
		res.Status = domain.MovementPending
	}
	a.results[key] = res
	return res, resultErr(res)
}

func resultErr(res gateway.Result) error {
	switch res.Status {
	case domain.MovementFailed:
		return domain.ErrExternalFailed
	case domain.MovementPending:
		return domain.ErrExternalPending
	}
	return nil
}
