package tenant_test

import (
	"testing"

	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := tenant.Parse("  user-1 ")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID("user-1"), id)
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "a'b", "x;drop", "q\"", "line\nbreak"} {
		_, err := tenant.Parse(raw)
		require.Error(t, err, raw)
		assert.True(t, finerr.HasCode(err, finerr.CodeServerAuthUnauthorized), raw)
	}
}
