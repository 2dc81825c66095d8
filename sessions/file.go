package sessions

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var _ Store = (*FileStore)(nil)

// FileStore persists the session as a JSON document so it survives process
// restarts. When a key is set the document is sealed with secretbox.
type FileStore struct {
	path string
	key  *[32]byte
	lock sync.RWMutex
}

type FileStoreOption func(*FileStore)

// WithEncryptionKey seals the stored document with key.
func WithEncryptionKey(key *[32]byte) FileStoreOption {
	return func(fs *FileStore) {
		fs.key = key
	}
}

func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	fs := &FileStore{path: path}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

func (fs *FileStore) Read(_ context.Context) (*Session, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[FileStore.Read] reading %s: %w", fs.path, err)
	}

	if fs.key != nil {
		if data, err = fs.open(data); err != nil {
			return nil, err
		}
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("[FileStore.Read] %v: %w", err, ErrUnreadable)
	}
	return &s, nil
}

// Write replaces the file atomically: the document is written to a temporary
// file in the same directory and renamed over the old one.
func (fs *FileStore) Write(_ context.Context, s *Session) error {
	if s == nil {
		return ErrNilSession
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("[FileStore.Write] marshal session: %w", err)
	}
	if fs.key != nil {
		if data, err = fs.seal(data); err != nil {
			return err
		}
	}

	fs.lock.Lock()
	defer fs.lock.Unlock()

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("[FileStore.Write] create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("[FileStore.Write] create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore.Write] write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore.Write] sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileStore.Write] close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("[FileStore.Write] rename: %w", err)
	}
	return nil
}

func (fs *FileStore) Clear(_ context.Context) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if err := os.Remove(fs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("[FileStore.Clear] %w", err)
	}
	return nil
}

func (fs *FileStore) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("[FileStore.seal] nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, fs.key), nil
}

func (fs *FileStore) open(box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("[FileStore.open] short document: %w", ErrUnreadable)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, fs.key)
	if !ok {
		return nil, fmt.Errorf("[FileStore.open] decryption failed: %w", ErrUnreadable)
	}
	return plain, nil
}
