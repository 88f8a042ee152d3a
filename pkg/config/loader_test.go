package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getstubd/stubd/pkg/imposter"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validJSON = `{
  "imposters": [
    {
      "protocol": "http",
      "port": 4545,
      "name": "orders",
      "stubs": [
        {
          "predicates": {"equals": {"path": "/orders"}},
          "responses": [{"is": {"statusCode": 200, "body": "ok"}}]
        }
      ]
    }
  ]
}`

const validYAML = `imposters:
  - protocol: http
    port: 4546
    name: inventory
    recordRequests: true
    stubs:
      - predicates:
          equals:
            method: GET
        responses:
          - is:
              statusCode: 200
              body: stocked
          - proxy:
              to: http://origin:8080
              mode: proxyAlways
`

func TestLoadFromFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "imposters.json", validJSON)

	doc, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, doc.Imposters, 1)

	cfg := doc.Imposters[0]
	assert.Equal(t, imposter.ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, 4545, cfg.Port)
	assert.Equal(t, "orders", cfg.Name)
	require.Len(t, cfg.Stubs, 1)
	assert.Equal(t, map[string]any{"equals": map[string]any{"path": "/orders"}}, cfg.Stubs[0].Predicates)
	require.Len(t, cfg.Stubs[0].Responses, 1)
	assert.Equal(t, "ok", cfg.Stubs[0].Responses[0].Is["body"])
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "imposters.yaml", validYAML)

	doc, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, doc.Imposters, 1)

	cfg := doc.Imposters[0]
	assert.Equal(t, 4546, cfg.Port)
	assert.True(t, cfg.RecordRequests)
	require.Len(t, cfg.Stubs, 1)
	require.Len(t, cfg.Stubs[0].Responses, 2)
	assert.Equal(t, "stocked", cfg.Stubs[0].Responses[0].Is["body"])
	require.NotNil(t, cfg.Stubs[0].Responses[1].Proxy)
	assert.Equal(t, "http://origin:8080", cfg.Stubs[0].Responses[1].Proxy.To)
	assert.Equal(t, imposter.ProxyAlways, cfg.Stubs[0].Responses[1].Proxy.Mode)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(dir, "nope.json"))
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := LoadFromFile(dir)
		assert.ErrorContains(t, err, "directory")
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeFile(t, dir, "empty.json", "  \n")
		_, err := LoadFromFile(path)
		assert.ErrorIs(t, err, ErrEmptyFile)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := writeFile(t, dir, "bad.json", `{"imposters": [`)
		_, err := LoadFromFile(path)
		assert.ErrorIs(t, err, ErrInvalidJSON)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, dir, "bad.yaml", "imposters:\n  - protocol: [unclosed")
		_, err := LoadFromFile(path)
		assert.ErrorIs(t, err, ErrInvalidYAML)
	})
}

func TestSchemaRejections(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown protocol",
			content: `{"imposters": [{"protocol": "smtp", "stubs": []}]}`,
		},
		{
			name:    "port out of range",
			content: `{"imposters": [{"protocol": "http", "port": 70000}]}`,
		},
		{
			name:    "stub without responses",
			content: `{"imposters": [{"protocol": "http", "stubs": [{"responses": []}]}]}`,
		},
		{
			name:    "proxy without target",
			content: `{"imposters": [{"protocol": "http", "stubs": [{"responses": [{"proxy": {"mode": "proxyOnce"}}]}]}]}`,
		},
		{
			name:    "negative wait",
			content: `{"imposters": [{"protocol": "http", "stubs": [{"responses": [{"is": {}, "_behaviors": {"wait": -5}}]}]}]}`,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "schema"+string(rune('a'+i))+".json", tt.content)
			_, err := LoadFromFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromGlob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", `{"imposters": [{"protocol": "http", "port": 2}]}`)
	writeFile(t, dir, "a.json", `{"imposters": [{"protocol": "http", "port": 1}]}`)

	doc, err := LoadFromGlob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, doc.Imposters, 2)

	// Sorted path order keeps imposter ordering stable across runs.
	assert.Equal(t, 1, doc.Imposters[0].Port)
	assert.Equal(t, 2, doc.Imposters[1].Port)
}

func TestLoadFromGlobNoMatch(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFromGlob(filepath.Join(dir, "*.json"))
	assert.ErrorIs(t, err, ErrNoFilesMatched)
}

func TestLoadFromGlobPlainPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "single.json", `{"imposters": [{"protocol": "http", "port": 9}]}`)

	doc, err := LoadFromGlob(path)
	require.NoError(t, err)
	require.Len(t, doc.Imposters, 1)
	assert.Equal(t, 9, doc.Imposters[0].Port)
}
