//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/sh"
)

// Variables
const (
	binaryDir = "bin"
	goFlags   = "-v"
	ldFlags   = "-s -w"
)

// All builds everything.
func All() error {
	return Build()
}

// ============================================================================
// Build targets
// ============================================================================

// Build builds the kauthd service.
func Build() error {
	fmt.Println("Building kauthd...")
	if err := os.MkdirAll(binaryDir, 0755); err != nil {
		return err
	}
	return sh.Run("go", "build", goFlags, "-ldflags", ldFlags, "-o", filepath.Join(binaryDir, "kauthd"), "./cmd/kauthd")
}

// Run runs the kauthd service locally.
func Run() error {
	return sh.Run("go", "run", "./cmd/kauthd")
}

// ============================================================================
// Testing
// ============================================================================

// Test runs all tests.
func Test() error {
	return sh.Run("go", "test", "-v", "-race", "-cover", "./...")
}

// TestUnit runs unit tests only.
func TestUnit() error {
	return sh.Run("go", "test", "-v", "-race", "-cover", "-short", "./...")
}

// TestCoverage generates test coverage report.
func TestCoverage() error {
	if err := sh.Run("go", "test", "-v", "-race", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	if err := sh.Run("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html"); err != nil {
		return err
	}
	fmt.Println("Coverage report generated: coverage.html")
	return nil
}

// Bench runs benchmarks.
func Bench() error {
	return sh.Run("go", "test", "-bench=.", "-benchmem", "./...")
}

// ============================================================================
// Code quality
// ============================================================================

// Lint runs the linter.
func Lint() error {
	return sh.Run("golangci-lint", "run", "./...")
}

// Fmt formats code.
func Fmt() error {
	if err := sh.Run("go", "fmt", "./..."); err != nil {
		return err
	}
	return sh.Run("gofumpt", "-l", "-w", ".")
}

// Vet runs go vet.
func Vet() error {
	return sh.Run("go", "vet", "./...")
}

// Tidy tidies and verifies go modules.
func Tidy() error {
	if err := sh.Run("go", "mod", "tidy"); err != nil {
		return err
	}
	return sh.Run("go", "mod", "verify")
}

// ============================================================================
// Security
// ============================================================================

// GenerateKeys generates an RSA key pair for session token signing.
func GenerateKeys() error {
	fmt.Println("Generating RSA key pair...")
	if err := os.MkdirAll("keys", 0755); err != nil {
		return err
	}
	if err := sh.Run("openssl", "genrsa", "-out", "keys/private.pem", "4096"); err != nil {
		return err
	}
	if err := sh.Run("openssl", "rsa", "-in", "keys/private.pem", "-pubout", "-out", "keys/public.pem"); err != nil {
		return err
	}
	if err := os.Chmod("keys/private.pem", 0600); err != nil {
		return err
	}
	fmt.Println("Keys generated in ./keys directory")
	return nil
}

// SecurityScan runs security scanner.
func SecurityScan() error {
	return sh.Run("gosec", "./...")
}

// ============================================================================
// Cleanup
// ============================================================================

// Clean cleans build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	_ = os.Remove("coverage.html")
	return sh.Run("go", "clean", "-cache")
}

// ============================================================================
// Installation
// ============================================================================

// InstallTools installs development tools.
func InstallTools() error {
	fmt.Println("Installing development tools...")
	tools := []string{
		"github.com/golangci/golangci-lint/cmd/golangci-lint@latest",
		"mvdan.cc/gofumpt@latest",
		"github.com/securego/gosec/v2/cmd/gosec@latest",
	}

	for _, tool := range tools {
		if err := sh.Run("go", "install", tool); err != nil {
			return err
		}
	}
	return nil
}

// Deps downloads dependencies.
func Deps() error {
	return sh.Run("go", "mod", "download")
}
