package crypto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"crowdfund/core/ledger"
)

// Session is the signing identity the engine acts through. A session without
// an account is valid and permits reads only.
type Session interface {
	Account() (common.Address, bool)
	ChainID() (uint64, bool)
	// Connect requests a new session, replacing the current one.
	Connect(ctx context.Context) error
	Disconnect()
	SignTx(ctx context.Context, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// PassphraseFunc supplies the keystore passphrase when a session is requested.
type PassphraseFunc func() (string, error)

// ChainIDFunc reports the chain the node is serving.
type ChainIDFunc func(ctx context.Context) (*big.Int, error)

// ApproveFunc is consulted before every signature. Returning false declines
// the signature without any network side effect.
type ApproveFunc func(ctx context.Context, tx *gethtypes.Transaction) bool

type signingState struct {
	mu      sync.RWMutex
	key     *PrivateKey
	chainID uint64
	hasID   bool
	approve ApproveFunc
}

func (s *signingState) Account() (common.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return common.Address{}, false
	}
	return s.key.Address(), true
}

func (s *signingState) ChainID() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID, s.hasID
}

func (s *signingState) SignTx(ctx context.Context, tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error) {
	s.mu.RLock()
	key, sessionChain, hasID, approve := s.key, s.chainID, s.hasID, s.approve
	s.mu.RUnlock()
	if key == nil {
		return nil, fmt.Errorf("crypto: no active session: %w", ledger.ErrUserDeclined)
	}
	if chainID == nil {
		return nil, errors.New("crypto: chain id required")
	}
	if hasID && (!chainID.IsUint64() || chainID.Uint64() != sessionChain) {
		return nil, fmt.Errorf("crypto: session is on chain %d, transaction targets %s", sessionChain, chainID.String())
	}
	if approve != nil && !approve(ctx, tx) {
		return nil, ledger.ErrUserDeclined
	}
	return gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), key.PrivateKey)
}

func (s *signingState) set(key *PrivateKey, chainID uint64, hasID bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key, s.chainID, s.hasID = key, chainID, hasID
}

func (s *signingState) Disconnect() { s.set(nil, 0, false) }

// KeystoreSession signs with a key decrypted from an Ethereum v3 keystore.
type KeystoreSession struct {
	signingState

	path       string
	passphrase PassphraseFunc
	chain      ChainIDFunc
}

// SessionOption customises a KeystoreSession.
type SessionOption func(*KeystoreSession)

// WithApproval installs a hook consulted before every signature.
func WithApproval(fn ApproveFunc) SessionOption {
	return func(s *KeystoreSession) { s.approve = fn }
}

// NewKeystoreSession constructs a disconnected session over the keystore at path.
func NewKeystoreSession(path string, passphrase PassphraseFunc, chain ChainIDFunc, opts ...SessionOption) *KeystoreSession {
	s := &KeystoreSession{path: path, passphrase: passphrase, chain: chain}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Session = (*KeystoreSession)(nil)

// Connect unlocks the keystore and records the node's chain. A failed attempt
// leaves the previous session untouched.
func (s *KeystoreSession) Connect(ctx context.Context) error {
	if s.passphrase == nil {
		return errors.New("crypto: passphrase source required")
	}
	pass, err := s.passphrase()
	if err != nil {
		return fmt.Errorf("crypto: passphrase: %w", err)
	}
	key, err := loadKeystore(s.path, pass)
	if err != nil {
		return err
	}
	var chainID uint64
	var hasID bool
	if s.chain != nil {
		id, err := s.chain(ctx)
		if err != nil {
			return fmt.Errorf("crypto: chain id: %w", err)
		}
		if !id.IsUint64() {
			return fmt.Errorf("crypto: chain id %s out of range", id.String())
		}
		chainID, hasID = id.Uint64(), true
	}
	s.set(key, chainID, hasID)
	return nil
}

// StaticSession holds an in-memory key, or none for a read-only session.
type StaticSession struct {
	signingState

	initialKey *PrivateKey
	initialID  uint64
}

// NewStaticSession returns a connected session. A nil key yields a read-only
// session that still reports chainID.
func NewStaticSession(key *PrivateKey, chainID uint64, opts ...func(*StaticSession)) *StaticSession {
	s := &StaticSession{initialKey: key, initialID: chainID}
	for _, opt := range opts {
		opt(s)
	}
	s.set(key, chainID, true)
	return s
}

// WithStaticApproval installs a signature approval hook on a StaticSession.
func WithStaticApproval(fn ApproveFunc) func(*StaticSession) {
	return func(s *StaticSession) { s.approve = fn }
}

var _ Session = (*StaticSession)(nil)

// Connect restores the session's original identity.
func (s *StaticSession) Connect(context.Context) error {
	s.set(s.initialKey, s.initialID, true)
	return nil
}

// CreateKeystore generates a fresh key and writes it to path as an Ethereum
// v3 keystore encrypted with passphrase.
func CreateKeystore(path, passphrase string) (common.Address, error) {
	key, err := GeneratePrivateKey()
	if err != nil {
		return common.Address{}, err
	}
	if err := writeKeystore(path, key, passphrase, keystore.StandardScryptN, keystore.StandardScryptP); err != nil {
		return common.Address{}, err
	}
	return key.Address(), nil
}

// writeKeystore imports key into a scratch keystore next to path and moves the
// resulting file into place with 0600 permissions.
func writeKeystore(path string, key *PrivateKey, passphrase string, scryptN, scryptP int) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, scryptN, scryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("crypto: keystore %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(tmpDir, entries[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// KeystoreAddress reads the account address recorded in the keystore at path
// without decrypting it.
func KeystoreAddress(path string) (common.Address, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: read keystore: %w", err)
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(keyJSON, &header); err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	if !common.IsHexAddress(header.Address) {
		return common.Address{}, fmt.Errorf("crypto: keystore %s has no address", path)
	}
	return common.HexToAddress(header.Address), nil
}

func loadKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: unlock keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
