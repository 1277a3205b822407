package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listFilesParams struct {
	Path      string   `json:"path" description:"Directory to list"`
	Recursive bool     `json:"recursive,omitempty"`
	Globs     []string `json:"globs,omitempty"`
	MaxDepth  int      `json:"max_depth,omitempty"`
	hidden    string
}

func TestSchemaFor(t *testing.T) {
	schema := SchemaFor(listFilesParams{})

	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)

	path, ok := properties["path"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", path["type"])
	assert.Equal(t, "Directory to list", path["description"])

	recursive := properties["recursive"].(map[string]any)
	assert.Equal(t, "boolean", recursive["type"])

	globs := properties["globs"].(map[string]any)
	assert.Equal(t, "array", globs["type"])

	maxDepth := properties["max_depth"].(map[string]any)
	assert.Equal(t, "integer", maxDepth["type"])

	// Unexported fields never leak into the schema.
	_, leaked := properties["hidden"]
	assert.False(t, leaked)

	assert.Equal(t, []string{"path"}, schema["required"])
}

func TestSchemaForNonStruct(t *testing.T) {
	schema := SchemaFor("not a struct")

	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := SchemaFor(listFilesParams{})

	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{
			name:   "valid",
			params: map[string]any{"path": "/tmp", "recursive": true},
		},
		{
			name:    "missing required",
			params:  map[string]any{"recursive": true},
			wantErr: "required field is missing",
		},
		{
			name:    "wrong type",
			params:  map[string]any{"path": 42},
			wantErr: "expected type string",
		},
		{
			name:   "json decoded integer",
			params: map[string]any{"path": "/tmp", "max_depth": float64(3)},
		},
		{
			name:    "fractional integer",
			params:  map[string]any{"path": "/tmp", "max_depth": 3.5},
			wantErr: "expected type integer",
		},
		{
			name:   "extra fields pass through",
			params: map[string]any{"path": "/tmp", "unknown": "whatever"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, schema)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateParametersJSONRoundTrippedSchema(t *testing.T) {
	// Schemas decoded from JSON carry []any for required.
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"query": "hi"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)
}
