// Package loader defines an abstraction to load a signing key from a
// persistent storage, so that a notary keeps the same identity across
// restarts. It either reads the key from the storage, or generates a new one
// and stores it for the next time.
package loader

import (
	"io"
	"os"

	"golang.org/x/xerrors"
)

// Generator is the interface to implement to generate a key.
type Generator interface {
	Generate() ([]byte, error)
}

// Loader is an abstraction to load a key from a storage.
type Loader interface {
	// LoadOrCreate tries to load the key and returns it if found, otherwise
	// it generates a new one using the generator and stores it.
	LoadOrCreate(Generator) ([]byte, error)
}

// FileLoader is a loader that is storing the keys to a file.
//
// - implements loader.Loader
type fileLoader struct {
	path string
}

// NewFileLoader creates a new loader that is using the file given in
// parameter.
func NewFileLoader(path string) Loader {
	return fileLoader{path: path}
}

// LoadOrCreate implements loader.Loader. It either loads the key from the file
// if it exists, or it generates a new one and stores it in the file. The file
// created has minimal read permission for the current user (0400).
func (l fileLoader) LoadOrCreate(g Generator) ([]byte, error) {
	_, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		data, err := g.Generate()
		if err != nil {
			return nil, xerrors.Errorf("generator failed: %v", err)
		}

		file, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0400)
		if err != nil {
			return nil, xerrors.Errorf("while creating file: %v", err)
		}

		defer file.Close()

		_, err = file.Write(data)
		if err != nil {
			return nil, xerrors.Errorf("while writing: %v", err)
		}

		return data, nil
	}

	file, err := os.Open(l.path)
	if err != nil {
		return nil, xerrors.Errorf("while opening file: %v", err)
	}

	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Errorf("while reading file: %v", err)
	}

	return data, nil
}
