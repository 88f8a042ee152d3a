package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getstubd/stubd/pkg/imposter"
	"github.com/getstubd/stubd/pkg/logging"
)

func startImposter(t *testing.T, m *Manager, cfg imposter.Config) *Imposter {
	t.Helper()
	im, err := m.Create(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = im.Stop(context.Background()) })
	return im
}

func imposterURL(im *Imposter, path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", im.Port(), path)
}

func TestImposterServesStubResponses(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		Port:     0,
		Stubs: []imposter.StubConfig{
			{
				Predicates: map[string]any{"equals": map[string]any{"path": "/greet"}},
				Responses: []*imposter.ResponseDescriptor{
					{Is: imposter.Response{
						"statusCode": 200,
						"headers":    map[string]any{"X-Stub": "greeting"},
						"body":       "hello",
					}},
				},
			},
		},
	})
	assert.NotZero(t, im.Port())

	resp, err := http.Get(imposterURL(im, "/greet"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "greeting", resp.Header.Get("X-Stub"))
}

func TestImposterFallbackForUnmatchedRequest(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		DefaultResponse: imposter.Response{
			"statusCode": 404,
			"body":       "no stub for you",
		},
		Stubs: []imposter.StubConfig{
			{
				Predicates: map[string]any{"equals": map[string]any{"path": "/known"}},
				Responses:  []*imposter.ResponseDescriptor{{Is: imposter.Response{"body": "known"}}},
			},
		},
	})

	resp, err := http.Get(imposterURL(im, "/unknown"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no stub for you", string(body))
}

func TestImposterJSONBody(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		Stubs: []imposter.StubConfig{
			{
				Responses: []*imposter.ResponseDescriptor{
					{Is: imposter.Response{
						"statusCode": 200,
						"body":       map[string]any{"items": []any{"a", "b"}},
					}},
				},
			},
		},
	})

	resp, err := http.Get(imposterURL(im, "/"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, []any{"a", "b"}, decoded["items"])
}

func TestImposterMatchesOnBody(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		Stubs: []imposter.StubConfig{
			{
				Predicates: map[string]any{"contains": map[string]any{"body": "widget"}},
				Responses:  []*imposter.ResponseDescriptor{{Is: imposter.Response{"body": "matched body"}}},
			},
		},
	})

	resp, err := http.Post(imposterURL(im, "/orders"), "application/json", strings.NewReader(`{"sku":"widget-1"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "matched body", string(body))
}

func TestImposterRecordsRequests(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{
		Protocol:       imposter.ProtocolHTTP,
		RecordRequests: true,
		Stubs: []imposter.StubConfig{
			{Responses: []*imposter.ResponseDescriptor{{Is: imposter.Response{"body": "ok"}}}},
		},
	})

	for _, path := range []string{"/first", "/second"} {
		resp, err := http.Get(imposterURL(im, path))
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	entries := im.Requests()
	require.Len(t, entries, 2)
	assert.Equal(t, "/first", entries[0].Request["path"])
	assert.Equal(t, "/second", entries[1].Request["path"])
	assert.Equal(t, "ok", entries[0].Response["body"])
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.NotEmpty(t, entries[0].ID)
	assert.Less(t, entries[0].ID, entries[1].ID, "entry IDs sort by arrival")
}

func TestImposterInjectResponse(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		Stubs: []imposter.StubConfig{
			{
				Predicates: map[string]any{"inject": `request.path == "/scripted"`},
				Responses: []*imposter.ResponseDescriptor{
					{Inject: `{"statusCode": 200, "body": "echo " + request.method}`},
				},
			},
		},
	})

	resp, err := http.Get(imposterURL(im, "/scripted"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "echo GET", string(body))
}

func TestManagerValidateConfig(t *testing.T) {
	m := NewManager()

	err := m.ValidateConfig(imposter.Config{Protocol: "gopher"})
	var cerr *imposter.ConfigError
	require.ErrorAs(t, err, &cerr)

	err = m.ValidateConfig(imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		Stubs: []imposter.StubConfig{
			{
				Predicates: map[string]any{"bogusOp": "x"},
				Responses:  []*imposter.ResponseDescriptor{{Is: imposter.Response{}}},
			},
		},
	})
	var verr *imposter.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "bogusOp", verr.Operator)

	assert.NoError(t, m.ValidateConfig(imposter.Config{Protocol: imposter.ProtocolHTTP}))
}

func TestManagerRejectsDuplicatePort(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{Protocol: imposter.ProtocolHTTP})

	_, err := m.Create(context.Background(), imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		Port:     im.Port(),
	})
	require.Error(t, err)
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	a := startImposter(t, m, imposter.Config{Protocol: imposter.ProtocolHTTP, Name: "a"})
	b := startImposter(t, m, imposter.Config{Protocol: imposter.ProtocolHTTP, Name: "b"})

	assert.Len(t, m.List(), 2)
	assert.Same(t, a, m.Get(a.Port()))

	removed := m.Delete(context.Background(), a.Port())
	assert.Same(t, a, removed)
	assert.Nil(t, m.Get(a.Port()))
	assert.Len(t, m.List(), 1)

	// Deleting again is a no-op.
	assert.Nil(t, m.Delete(context.Background(), a.Port()))

	m.DeleteAll(context.Background())
	assert.Empty(t, m.List())
	assert.Nil(t, m.Get(b.Port()))
}

func TestManagerAddStub(t *testing.T) {
	m := NewManager(WithLogger(logging.Nop()))
	im := startImposter(t, m, imposter.Config{
		Protocol: imposter.ProtocolHTTP,
		Stubs: []imposter.StubConfig{
			{Responses: []*imposter.ResponseDescriptor{{Is: imposter.Response{"body": "first"}}}},
		},
	})

	err := m.AddStub(im.Port(), imposter.StubConfig{
		Predicates: map[string]any{"equals": map[string]any{"path": "/new"}},
		Responses:  []*imposter.ResponseDescriptor{{Is: imposter.Response{"body": "second"}}},
	})
	require.NoError(t, err)
	assert.Len(t, im.Repository().Stubs(), 2)

	// Earlier stubs keep priority: the catch-all still answers everything.
	resp, err := http.Get(imposterURL(im, "/new"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "first", string(body))

	// Invalid additions are rejected before touching the repository.
	err = m.AddStub(im.Port(), imposter.StubConfig{})
	assert.Error(t, err)
	err = m.AddStub(im.Port()+1, imposter.StubConfig{
		Responses: []*imposter.ResponseDescriptor{{Is: imposter.Response{}}},
	})
	assert.Error(t, err)
}
