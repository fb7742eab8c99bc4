package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

// fileRecord is the on-disk layout of the session.
type fileRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

type sealedRecord struct {
	Version int    `json:"v"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Box     []byte `json:"box"`
}

// FileStore keeps the session as one JSON file. With a non-empty secret the
// record is sealed with secretbox under an argon2id-derived key.
type FileStore struct {
	path   string
	secret []byte

	mu      sync.Mutex
	keySalt []byte
	key     *[keySize]byte
}

func NewFileStore(path, secret string) *FileStore {
	fs := &FileStore{path: path}
	if secret != "" {
		fs.secret = []byte(secret)
	}
	return fs
}

func (fs *FileStore) Load(_ context.Context) (*Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session/file: can't read %s, %w", fs.path, err)
	}

	if fs.secret != nil {
		data, err = fs.open(data)
		if err != nil {
			return nil, err
		}
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}

	return &Session{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
		UserID:       rec.UserID,
	}, nil
}

func (fs *FileStore) Save(_ context.Context, s *Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(fileRecord{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		UserID:       s.UserID,
	})
	if err != nil {
		return fmt.Errorf("session/file: can't encode session, %w", err)
	}

	if fs.secret != nil {
		data, err = fs.seal(data)
		if err != nil {
			return err
		}
	}

	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("session/file: can't create %s, %w", dir, err)
		}
	}

	// tmp + rename keeps the record whole if we die mid-write
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session/file: can't write temp file, %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session/file: can't replace %s, %w", fs.path, err)
	}
	return nil
}

func (fs *FileStore) Clear(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := os.Remove(fs.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session/file: can't remove %s, %w", fs.path, err)
	}
	return nil
}

func (fs *FileStore) seal(plain []byte) ([]byte, error) {
	if fs.key == nil {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("session/file: can't generate salt, %w", err)
		}
		fs.useKey(salt)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("session/file: can't generate nonce, %w", err)
	}

	return json.Marshal(sealedRecord{
		Version: 1,
		Salt:    fs.keySalt,
		Nonce:   nonce[:],
		Box:     secretbox.Seal(nil, plain, &nonce, fs.key),
	})
}

func (fs *FileStore) open(data []byte) ([]byte, error) {
	var rec sealedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if rec.Version != 1 || len(rec.Salt) != saltSize || len(rec.Nonce) != nonceSize {
		return nil, fmt.Errorf("%w: unexpected envelope", ErrCorruptSession)
	}

	if fs.key == nil || !bytes.Equal(fs.keySalt, rec.Salt) {
		fs.useKey(rec.Salt)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], rec.Nonce)
	plain, ok := secretbox.Open(nil, rec.Box, &nonce, fs.key)
	if !ok {
		return nil, fmt.Errorf("%w: can't decrypt", ErrCorruptSession)
	}
	return plain, nil
}

func (fs *FileStore) useKey(salt []byte) {
	var key [keySize]byte
	copy(key[:], argon2.IDKey(fs.secret, salt, 1, 64*1024, 4, keySize))
	fs.keySalt = append([]byte(nil), salt...)
	fs.key = &key
}
