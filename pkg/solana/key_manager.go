package solana

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/blocto/solana-go-sdk/types"
)

// KeyStoreEntry is one labeled keypair on disk: the run vaults, the fee
// vault and managed participant wallets all live in the same keystore.
type KeyStoreEntry struct {
	Label        string `json:"label"`
	Address      string `json:"address"`
	EncryptedKey string `json:"encrypted_key"`
	Version      int    `json:"version"`
}

// KeyManager handles keypair generation and the AES-256-GCM encrypted
// keystore the custody layer signs with.
type KeyManager struct {
	dir string
}

// NewKeyManager creates a KeyManager over KEYSTORE_DIR (default
// configs/keystore).
func NewKeyManager() *KeyManager {
	dir := os.Getenv("KEYSTORE_DIR")
	if dir == "" {
		dir = "configs/keystore"
	}
	return &KeyManager{dir: dir}
}

// GenerateKeyPair generates a new Solana key pair.
func (km *KeyManager) GenerateKeyPair() (*types.Account, error) {
	account := types.NewAccount()
	return &account, nil
}

// EncryptPrivateKey encrypts a private key using AES-256-GCM.
func (km *KeyManager) EncryptPrivateKey(privateKey []byte, password string) (string, error) {
	key := deriveKey(password)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, privateKey, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPrivateKey decrypts a private key using AES-256-GCM.
func (km *KeyManager) DecryptPrivateKey(encryptedKey string, password string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	key := deriveKey(password)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertext = ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// SaveEntry persists a labeled keypair, encrypted, to the keystore.
func (km *KeyManager) SaveEntry(label, address string, privateKey []byte, password string) error {
	if err := os.MkdirAll(km.dir, 0700); err != nil {
		return fmt.Errorf("failed to create keystore directory: %w", err)
	}

	encrypted, err := km.EncryptPrivateKey(privateKey, password)
	if err != nil {
		return err
	}

	entry := KeyStoreEntry{
		Label:        label,
		Address:      address,
		EncryptedKey: encrypted,
		Version:      1,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore entry: %w", err)
	}

	path := filepath.Join(km.dir, label+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore entry: %w", err)
	}
	return nil
}

// LoadEntry reads a labeled keystore entry. The private key stays encrypted.
func (km *KeyManager) LoadEntry(label string) (*KeyStoreEntry, error) {
	data, err := os.ReadFile(filepath.Join(km.dir, label+".json"))
	if err != nil {
		return nil, err
	}
	var entry KeyStoreEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore entry: %w", err)
	}
	return &entry, nil
}

// LoadPrivateKey reads and decrypts a labeled private key.
func (km *KeyManager) LoadPrivateKey(label, password string) ([]byte, error) {
	entry, err := km.LoadEntry(label)
	if err != nil {
		return nil, err
	}
	return km.DecryptPrivateKey(entry.EncryptedKey, password)
}

// EnsureKey loads the labeled keypair, generating and persisting it on first
// use. Returns the wallet address and the decrypted private key.
func (km *KeyManager) EnsureKey(label, password string) (string, []byte, error) {
	if entry, err := km.LoadEntry(label); err == nil {
		priv, err := km.DecryptPrivateKey(entry.EncryptedKey, password)
		if err != nil {
			return "", nil, err
		}
		return entry.Address, priv, nil
	} else if !os.IsNotExist(err) {
		return "", nil, err
	}

	account, err := km.GenerateKeyPair()
	if err != nil {
		return "", nil, err
	}
	address := account.PublicKey.ToBase58()
	if err := km.SaveEntry(label, address, account.PrivateKey, password); err != nil {
		return "", nil, err
	}
	return address, account.PrivateKey, nil
}

// deriveKey derives a 32-byte AES key from a password
func deriveKey(password string) []byte {
	hash := sha256.Sum256([]byte(password))
	return hash[:]
}
