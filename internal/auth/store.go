package auth

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/OikoumE/twitchwrapper/internal/crypto"
)

// Credentials is the token pair persisted between runs. The file is
// overwritten wholesale on every grant or refresh and deleted on revoke.
type Credentials struct {
	AccessToken  string   `json:"access_token"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

// Store persists a single credential pair on local disk.
type Store interface {
	Load() (*Credentials, error)
	Save(*Credentials) error
	Delete() error
}

// FileStore stores credentials as a JSON file, optionally encrypted at
// rest.
type FileStore struct {
	path   string
	cipher crypto.Service
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithCipher encrypts the credential file with the given service.
func WithCipher(c crypto.Service) FileStoreOption {
	return func(s *FileStore) { s.cipher = c }
}

func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{path: path, cipher: crypto.NoopService{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored credentials. Returns an error wrapping
// fs.ErrNotExist when no credentials have been saved yet.
func (s *FileStore) Load() (*Credentials, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	plain, err := s.cipher.Decrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials file %s: %w", s.path, err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(plain), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", s.path, err)
	}
	return &creds, nil
}

// Save overwrites the credentials file. Tokens are secrets, so the file is
// created owner-readable only.
func (s *FileStore) Save(creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	sealed, err := s.cipher.Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file %s: %w", s.path, err)
	}
	return nil
}

// Delete removes the credentials file. Removing an absent file is not an
// error.
func (s *FileStore) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credentials file %s: %w", s.path, err)
	}
	return nil
}
