package util

import (
	"bufio"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathJoinSafe(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "c"), PathJoinSafe("a", "b", "c"))
	assert.Equal(t, "s3://bucket/models/config.json", PathJoinSafe("s3://bucket/", "models", "config.json"))
	assert.Equal(t, "s3://bucket/models", PathJoinSafe("s3://bucket", "models"))
}

func TestGetPathType(t *testing.T) {
	assert.Equal(t, "S3", GetPathType("s3://bucket/key"))
	assert.Equal(t, "os", GetPathType("/tmp/file"))
}

func TestWriteReadFileBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")

	assert.NoError(t, WriteFileBytes(path, []byte("hello")))
	data, err := ReadFileBytes(path)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// overwriting replaces the previous contents
	assert.NoError(t, WriteFileBytes(path, []byte("shorter")))
	data, err = ReadFileBytes(path)
	assert.NoError(t, err)
	assert.Equal(t, []byte("shorter"), data)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.False(t, exists)

	path := filepath.Join(dir, "present")
	assert.NoError(t, WriteFileBytes(path, []byte("x")))
	exists, err = FileExists(path)
	assert.NoError(t, err)
	assert.True(t, exists)
}

func TestReadLine(t *testing.T) {
	long := strings.Repeat("a", 100000)
	reader := bufio.NewReader(strings.NewReader(long + "\nsecond\n"))

	line, err := ReadLine(reader)
	assert.NoError(t, err)
	assert.Len(t, line, 100000)

	line, err = ReadLine(reader)
	assert.NoError(t, err)
	assert.Equal(t, "second", string(line))
}
