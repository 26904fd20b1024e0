package worker

import (
	"io"
	"os"
)

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func openFile(path string) (*os.File, error) {
	return os.Open(path)
}

func removeTemp(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
