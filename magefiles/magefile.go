//go:build mage

// Package main contains Mage build targets for deep-research developer tooling.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// projectDirs lists the working directories a session writes to.
var projectDirs = []string{
	"state",
	"state/downloads",
	"reports",
	".secrets",
}

// Init creates the working directory structure.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Project directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "deep-research"
	cmdPkg  = "./cmd/deep-research"
)

// Build compiles the CLI binary into bin/, stamping the version from git
// when available.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || version == "" {
		version = "dev"
	}
	out := filepath.Join(binDir, binName)
	if err := sh.RunV("go", "build", "-ldflags", "-X main.version="+version, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s (%s)\n", out, version)
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Check vets the module and runs the tests.
func Check() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	mg.Deps(Test)
	return nil
}

// Install builds the binary and copies it into GOBIN.
func Install() error {
	mg.Deps(Build)
	gobin, err := sh.Output("go", "env", "GOBIN")
	if err != nil {
		return err
	}
	if gobin == "" {
		gopath, err := sh.Output("go", "env", "GOPATH")
		if err != nil {
			return err
		}
		gobin = filepath.Join(gopath, "bin")
	}
	return sh.Copy(filepath.Join(gobin, binName), filepath.Join(binDir, binName))
}

// Clean removes build output.
func Clean() error {
	return sh.Rm(binDir)
}

// Stats prints Go production and test line counts per top-level directory.
func Stats() error {
	type counts struct{ prod, test int }
	byDir := make(map[string]*counts)
	var order []string

	err := filepath.WalkDir(".", func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != "." && strings.HasPrefix(d.Name(), "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		top := strings.SplitN(filepath.ToSlash(path), "/", 2)[0]
		c, ok := byDir[top]
		if !ok {
			c = &counts{}
			byDir[top] = c
			order = append(order, top)
		}
		n := countLines(data)
		if strings.HasSuffix(path, "_test.go") {
			c.test += n
		} else {
			c.prod += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	var prod, test int
	for _, dir := range order {
		c := byDir[dir]
		fmt.Printf("%-12s %6d prod %6d test\n", dir, c.prod, c.test)
		prod += c.prod
		test += c.test
	}
	fmt.Printf("%-12s %6d prod %6d test\n", "total", prod, test)
	return nil
}

// countLines counts non-blank lines.
func countLines(data []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	return n
}
