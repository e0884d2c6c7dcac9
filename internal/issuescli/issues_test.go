package issuescli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	require.True(t, ValidID("abc-123_DEF"))
	require.False(t, ValidID(""))
	require.False(t, ValidID("abc 123"))
	require.False(t, ValidID("../etc/passwd"))
	require.False(t, ValidID("abc;rm -rf"))
}

func TestCreateRequest_Validate(t *testing.T) {
	require.NoError(t, CreateRequest{Title: "fix thing", Type: IssueBug, Priority: 2}.Validate())
	require.Error(t, CreateRequest{Title: "", Type: IssueBug}.Validate())
	require.Error(t, CreateRequest{Title: "x", Type: "invalid"}.Validate())
	require.Error(t, CreateRequest{Title: "x", Priority: 9}.Validate())
}
