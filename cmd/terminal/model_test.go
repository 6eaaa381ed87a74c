package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunID(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int64
		wantErr bool
	}{
		{name: "plain", args: []string{"42"}, want: 42},
		{name: "hash prefix", args: []string{"#7"}, want: 7},
		{name: "missing", args: nil, wantErr: true},
		{name: "extra", args: []string{"1", "2"}, wantErr: true},
		{name: "zero", args: []string{"0"}, wantErr: true},
		{name: "not a number", args: []string{"abc"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRunID(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessCommand_WithoutTools(t *testing.T) {
	m := initialModel(ThemeCyan)

	cmd := m.processCommand("/runs")
	assert.Nil(t, cmd)
	assert.Contains(t, m.history[len(m.history)-1], "Not connected")

	cmd = m.processCommand("/HELP")
	assert.Nil(t, cmd)
	assert.Contains(t, m.history[len(m.history)-1], "/sweep")

	assert.NotNil(t, m.processCommand("/quit"))
}
