//go:build tools

package tools

// Mocks in pkg/*/mocks are generated from .mockery.yaml. Run: go generate ./...
import (
	_ "github.com/vektra/mockery/v2"
)
