package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{input: "250ms", expected: 250 * time.Millisecond},
		{input: "30s", expected: 30 * time.Second},
		{input: "1h30m45s", expected: time.Hour + 30*time.Minute + 45*time.Second},
		{input: "0s", expected: 0},
		{input: "100", wantErr: true},
		{input: "100x", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, d.Duration)
		})
	}
}

func TestDuration_ConfigFormats(t *testing.T) {
	type retry struct {
		Backoff Duration `json:"backoff" yaml:"backoff" toml:"backoff"`
	}

	t.Run("json", func(t *testing.T) {
		var r retry
		require.NoError(t, json.Unmarshal([]byte(`{"backoff":"1h30m"}`), &r))
		require.Equal(t, 90*time.Minute, r.Backoff.Duration)

		require.Error(t, json.Unmarshal([]byte(`{"backoff":"soon"}`), &r))
	})

	t.Run("yaml", func(t *testing.T) {
		var r retry
		require.NoError(t, yaml.Unmarshal([]byte("backoff: 500ms\n"), &r))
		require.Equal(t, 500*time.Millisecond, r.Backoff.Duration)
	})

	t.Run("toml", func(t *testing.T) {
		var r retry
		_, err := toml.Decode(`backoff = "2s"`, &r)
		require.NoError(t, err)
		require.Equal(t, 2*time.Second, r.Backoff.Duration)
	})

	t.Run("json roundtrip", func(t *testing.T) {
		data, err := json.Marshal(retry{Backoff: NewDuration(5 * time.Minute)})
		require.NoError(t, err)

		var decoded retry
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.Equal(t, 5*time.Minute, decoded.Backoff.Duration)
	})
}

func TestDuration_JSONSchema(t *testing.T) {
	schema := Duration{}.JSONSchema()

	require.Equal(t, "string", schema.Type)
	require.Equal(t, "Duration", schema.Title)
	require.Contains(t, schema.Description, "Duration expressed in units")
	require.Contains(t, schema.Examples, "1m")
	require.Contains(t, schema.Examples, "300ms")
}
