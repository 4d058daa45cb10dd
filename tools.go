//go:build tools

package tools

// Pins dev tooling in go.mod so `go run` resolves fixed versions.
import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/vuln/cmd/govulncheck"
)
