package util

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

var FileSystem = afs.New()

const copyPartSize = 64 * 1024 * 1024

func ReadFileBytes(filename string) ([]byte, error) {
	file, err := FileSystem.OpenURL(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	defer func(file io.Closer) {
		err = errors.Join(err, CloseFile(file))
	}(file)

	outBytes, readErr := io.ReadAll(file)
	if readErr != nil {
		return nil, readErr
	}
	return outBytes, err
}

func CloseFile(file io.Closer) error {
	return file.Close()
}

func FileExists(filename string) (bool, error) {
	return FileSystem.Exists(context.Background(), filename)
}

func DeleteFile(filename string) error {
	return FileSystem.Delete(context.Background(), filename)
}

// CreateDir creates the directory and any missing parents.
func CreateDir(path string) error {
	return FileSystem.Create(context.Background(), path, os.ModePerm, true)
}

func CopyFile(from string, to string) error {
	return FileSystem.Copy(context.Background(), from, to,
		option.NewSource(option.NewStream(copyPartSize, 0)),
		option.NewDest(option.NewSkipChecksum(true)))
}

func WalkDir() func(ctx context.Context, URL string, handler storage.OnVisit, options ...storage.Option) error {
	return FileSystem.Walk
}

func NewFileWriter(filename string) (io.WriteCloser, error) {
	exists, err := FileExists(filename)
	if err != nil {
		return nil, err
	}
	if exists {
		if err = DeleteFile(filename); err != nil {
			return nil, err
		}
	}
	return FileSystem.NewWriter(context.Background(), filename, 0o644, option.NewSkipChecksum(true))
}

func WriteFileBytes(filename string, data []byte) error {
	writer, err := NewFileWriter(filename)
	if err != nil {
		return err
	}
	if _, err = writer.Write(data); err != nil {
		return errors.Join(err, writer.Close())
	}
	return writer.Close()
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

// ReadLine returns a single line (without the ending \n)
// from the input buffered reader.
// An error is returned if there is an error with the
// buffered reader.
// This function is needed to avoid the 65K char line limit.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var (
		isPrefix = true
		err      error
		line, ln []byte
	)
	for isPrefix && err == nil {
		line, isPrefix, err = r.ReadLine()
		ln = append(ln, line...)
	}
	return ln, err
}

// PathJoinSafe wrapper around filepath.Join to ensure that paths are correctly constructed
// if the path is a normal OS path, just use filepath.Join
// if the path is S3, trim any trailing slashes and construct it manually from the components
// so that double slashes (e.g. s3://) are preserved.
func PathJoinSafe(elem ...string) string {
	var path string

	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		path = basePath + string(filepath.Separator) + filepath.Join(elem[1:]...)
	default:
		path = filepath.Join(elem...)
	}
	return path
}
