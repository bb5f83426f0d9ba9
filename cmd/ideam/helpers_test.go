package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbccps-iisc/ideam-go/pkg/entity"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func mustIdentity(t *testing.T, entityID string) *entity.Identity {
	t.Helper()
	id, err := entity.NewIdentity(entityID, "")
	require.NoError(t, err)
	return id
}
