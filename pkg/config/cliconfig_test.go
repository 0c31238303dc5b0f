package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenPersistRoundtrip(t *testing.T) {
	c := &CliConfig{TokenFile: filepath.Join(t.TempDir(), "token")}
	c.SetToken("abc#RNA-US\n")
	assert.Equal(t, "abc#RNA-US", c.Token())

	assert.NoError(t, c.PersistToken())

	loaded := &CliConfig{TokenFile: c.TokenFile}
	assert.NoError(t, loaded.LoadToken())
	assert.Equal(t, "abc#RNA-US", loaded.Token())
}

func TestLoadTokenIgnoresEmptyFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "token")
	assert.NoError(t, os.WriteFile(file, nil, 0600))

	c := &CliConfig{TokenFile: file}
	c.SetToken("keep")
	assert.NoError(t, c.LoadToken())
	assert.Equal(t, "keep", c.Token())
}

func TestLoadTokenMissingFile(t *testing.T) {
	c := &CliConfig{TokenFile: filepath.Join(t.TempDir(), "nope")}
	assert.NoError(t, c.LoadToken())
	assert.Equal(t, "", c.Token())
}
