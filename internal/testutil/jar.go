// Package testutil builds fixtures shared by package tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"fmt"
	"sort"
)

// PluginJAR returns an in-memory plugin JAR whose plugin.yml declares name and
// version. Equal inputs produce identical bytes.
func PluginJAR(name, version string) []byte {
	return BuildJAR(map[string]string{
		"plugin.yml": fmt.Sprintf("name: %s\nversion: '%s'\nmain: com.example.%s\napi-version: '1.20'\n", name, version, name),
	})
}

// BuildJAR creates an in-memory JAR (ZIP) with the given entries, written in
// name order. Panics on error since this is a test utility.
func BuildJAR(files map[string]string) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	var buf bytes.Buffer

	w := zip.NewWriter(&buf)

	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			panic("BuildJAR: " + err.Error())
		}

		if _, err := f.Write([]byte(files[name])); err != nil {
			panic("BuildJAR: " + err.Error())
		}
	}

	if err := w.Close(); err != nil {
		panic("BuildJAR: " + err.Error())
	}

	return buf.Bytes()
}
