package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/logging"
)

type stubScriptHost struct {
	resp imposter.Response
	err  error
}

func (h *stubScriptHost) MatchesRequest(_ string, _ imposter.Request, _ *slog.Logger) (bool, error) {
	return false, fmt.Errorf("not a predicate host")
}

func (h *stubScriptHost) ProduceResponse(_ string, _ imposter.Request, _ *slog.Logger) (imposter.Response, error) {
	return h.resp, h.err
}

func TestResolveStatic(t *testing.T) {
	r := New()

	d := &imposter.ResponseDescriptor{Is: imposter.Response{"statusCode": 201, "body": "created"}}
	resp, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 201, resp["statusCode"])
	assert.Equal(t, "created", resp["body"])
}

func TestStaticMergesOverDefault(t *testing.T) {
	r := New()

	// A body-only payload still gets statusCode and headers.
	d := &imposter.ResponseDescriptor{Is: imposter.Response{"body": "partial"}}
	resp, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp["statusCode"])
	assert.Equal(t, "partial", resp["body"])
	assert.NotNil(t, resp["headers"])
}

func TestStaticPayloadIsNotAliased(t *testing.T) {
	r := New()
	d := &imposter.ResponseDescriptor{Is: imposter.Response{"body": "original"}}

	resp, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	require.NoError(t, err)
	resp["body"] = "mutated"

	again, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "original", again["body"])
}

func TestResolveInject(t *testing.T) {
	host := &stubScriptHost{resp: imposter.Response{"statusCode": 418, "body": "scripted"}}
	r := New(WithScriptHost(host))

	d := &imposter.ResponseDescriptor{Inject: `{"statusCode": 418}`}
	resp, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 418, resp["statusCode"])
	assert.Equal(t, "scripted", resp["body"])
}

func TestResolveInjectFailure(t *testing.T) {
	host := &stubScriptHost{err: fmt.Errorf("script panicked")}
	r := New(WithScriptHost(host))

	d := &imposter.ResponseDescriptor{Inject: "boom"}
	_, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	var rerr *imposter.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "inject", rerr.Strategy)
	assert.ErrorContains(t, err, "script panicked")
}

func TestResolveInjectWithoutHost(t *testing.T) {
	r := New()
	d := &imposter.ResponseDescriptor{Inject: "whatever"}
	_, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	require.ErrorContains(t, err, "script host")
}

func TestResolveEmptyDescriptor(t *testing.T) {
	r := New()
	_, err := r.Resolve(context.Background(), &imposter.ResponseDescriptor{}, imposter.Request{}, logging.Nop(), nil)
	var rerr *imposter.ResolutionError
	require.ErrorAs(t, err, &rerr)
}

func TestWaitBehavior(t *testing.T) {
	r := New()
	d := &imposter.ResponseDescriptor{
		Is:        imposter.Response{"body": "slow"},
		Behaviors: &imposter.Behaviors{WaitMs: 50},
	}

	start := time.Now()
	resp, err := r.Resolve(context.Background(), d, imposter.Request{}, logging.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, "slow", resp["body"])
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	r := New()
	d := &imposter.ResponseDescriptor{
		Is:        imposter.Response{"body": "slow"},
		Behaviors: &imposter.Behaviors{WaitMs: 10_000},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Resolve(ctx, d, imposter.Request{}, logging.Nop(), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
