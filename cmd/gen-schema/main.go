// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

// Command gen-schema writes the request and seed file JSON Schemas.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/credence/credence/internal/auth"
	"github.com/credence/credence/internal/httpapi"
	"github.com/credence/credence/internal/schema"
)

func main() {
	written, err := generate("schemas")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schemas: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Printf("Generated %s\n", path)
	}
}

// generate writes one <name>.schema.json per definition into dir and
// returns the paths written.
func generate(dir string) ([]string, error) {
	defs := append(httpapi.RequestSchemas(), auth.SeedDefinition())
	registry, err := schema.NewRegistry(defs...)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	written := make([]string, 0, len(defs))
	for _, name := range registry.Names() {
		doc, err := registry.Document(name)
		if err != nil {
			return nil, err
		}
		outPath := filepath.Join(dir, name+".schema.json")
		if err := os.WriteFile(outPath, doc, 0o600); err != nil {
			return nil, fmt.Errorf("writing %s: %w", outPath, err)
		}
		written = append(written, outPath)
	}
	return written, nil
}
