package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	t.Run("missing grid service returns error", func(t *testing.T) {
		server, err := NewServer(&Ports{Control: &mockControlService{}})
		require.Error(t, err)
		assert.Nil(t, server)
		assert.ErrorIs(t, err, ErrMissingGridService)
	})

	t.Run("valid ports creates server", func(t *testing.T) {
		server, err := NewServer(&Ports{Grid: &mockGridService{}, Control: &mockControlService{}})
		require.NoError(t, err)
		assert.NotNil(t, server)
	})
}

func TestPorts_Validate(t *testing.T) {
	tests := []struct {
		name  string
		ports *Ports
		want  error
	}{
		{"empty", &Ports{}, ErrMissingGridService},
		{"grid only", &Ports{Grid: &mockGridService{}}, ErrMissingControlService},
		{"all ports", &Ports{Grid: &mockGridService{}, Control: &mockControlService{}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ports.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
