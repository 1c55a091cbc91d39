package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRejectsBadInput(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &out, &errOut))

	out.Reset()
	assert.Equal(t, 2, run([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")}, &out, &errOut))
	assert.Contains(t, out.String(), "failed to load config")

	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte("mode = \"serve\"\n"), 0o600))
	out.Reset()
	assert.Equal(t, 2, run([]string{"-config", path, "-mode", "trade"}, &out, &errOut))
	assert.Contains(t, out.String(), "invalid configuration")
}
