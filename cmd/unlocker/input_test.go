package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlocker/internal/domain"
)

func writeTempLinks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "links.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadLinksFromFile(t *testing.T) {
	path := writeTempLinks(t, `
Game Pack: https://gate.example/l/abc

https://gate.example/l/bare
not a link at all
Mod Bundle: https://gate.example/l/def
`)

	links, err := readLinksFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, []domain.LinkInput{
		{Name: "Game Pack", URL: "https://gate.example/l/abc"},
		{URL: "https://gate.example/l/bare"},
		{Name: "Mod Bundle", URL: "https://gate.example/l/def"},
	}, links)
}

func TestReadLinksFromFileEmpty(t *testing.T) {
	path := writeTempLinks(t, "\n\n  \n")
	links, err := readLinksFromFile(path)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestReadLinksFromFileMissing(t *testing.T) {
	_, err := readLinksFromFile(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}
