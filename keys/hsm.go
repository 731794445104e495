package keys

import (
	"context"
	"sync"

	"github.com/miekg/pkcs11"
	"github.com/pkg/errors"
)

// HSMKeyManager signs via a PKCS#11 token. The keyID is the CKA_LABEL of the
// key pair on the token. PKCS#11 sessions are not safe for concurrent use,
// so all operations are serialized on one logged-in session.
type HSMKeyManager struct {
	mu      sync.Mutex
	module  *pkcs11.Ctx
	session pkcs11.SessionHandle
}

// NewHSMKeyManager loads the PKCS#11 module, opens a session on the
// configured slot and logs in.
func NewHSMKeyManager(cfg HSMConfig) (*HSMKeyManager, error) {
	if cfg.LibraryPath == "" || cfg.PIN == "" {
		return nil, errors.Wrap(ErrConfig, "hsm backend requires libraryPath and pin")
	}

	module := pkcs11.New(cfg.LibraryPath)
	if module == nil {
		return nil, errors.Wrapf(ErrConfig, "failed to load PKCS#11 module %s", cfg.LibraryPath)
	}
	if err := module.Initialize(); err != nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "failed to initialize PKCS#11 module: %s", err)
	}

	slots, err := module.GetSlotList(true)
	if err != nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "failed to list PKCS#11 slots: %s", err)
	}
	slotID, err := resolveSlot(module, slots, cfg)
	if err != nil {
		return nil, err
	}

	session, err := module.OpenSession(slotID, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "failed to open PKCS#11 session: %s", err)
	}
	if err := module.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
		return nil, errors.Wrapf(ErrSigningRejected, "PKCS#11 login failed: %s", err)
	}

	return &HSMKeyManager{
		module:  module,
		session: session,
	}, nil
}

// Sign signs the pre-hashed digest with CKM_ECDSA.
func (m *HSMKeyManager) Sign(ctx context.Context, digest []byte, keyID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, err := m.findObject(keyID, pkcs11.CKO_PRIVATE_KEY)
	if err != nil {
		return nil, err
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	if err := m.module.SignInit(m.session, mech, handle); err != nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "SignInit failed, keyID:%s: %s", keyID, err)
	}
	sig, err := m.module.Sign(m.session, digest)
	if err != nil {
		return nil, errors.Wrapf(ErrSigningRejected, "Sign failed, keyID:%s: %s", keyID, err)
	}
	return sig, nil
}

// PublicKey returns the DER-encoded EC point of the public key.
func (m *HSMKeyManager) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, err := m.findObject(keyID, pkcs11.CKO_PUBLIC_KEY)
	if err != nil {
		return nil, err
	}

	attrs, err := m.module.GetAttributeValue(m.session, handle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, nil),
	})
	if err != nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "failed to read EC point, keyID:%s: %s", keyID, err)
	}
	return attrs[0].Value, nil
}

// Rotate is not supported; key ceremonies happen on the token.
func (m *HSMKeyManager) Rotate(ctx context.Context, keyID string) error {
	return errors.Wrapf(ErrRotateNotSupported, "backend:%s, keyID:%s", BackendHSM, keyID)
}

// Close logs out and unloads the module.
func (m *HSMKeyManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.module.Logout(m.session)
	_ = m.module.CloseSession(m.session)
	if err := m.module.Finalize(); err != nil {
		return errors.Wrap(err, "failed to finalize PKCS#11 module")
	}
	m.module.Destroy()
	return nil
}

func (m *HSMKeyManager) findObject(keyID string, class uint) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, keyID),
	}
	if err := m.module.FindObjectsInit(m.session, template); err != nil {
		return 0, errors.Wrapf(ErrBackendUnavailable, "FindObjectsInit failed: %s", err)
	}
	handles, _, err := m.module.FindObjects(m.session, 1)
	if finErr := m.module.FindObjectsFinal(m.session); finErr != nil && err == nil {
		err = finErr
	}
	if err != nil {
		return 0, errors.Wrapf(ErrBackendUnavailable, "FindObjects failed: %s", err)
	}
	if len(handles) == 0 {
		return 0, errors.Wrapf(ErrKeyNotFound, "no PKCS#11 object with label %s", keyID)
	}
	return handles[0], nil
}

func resolveSlot(module *pkcs11.Ctx, slots []uint, cfg HSMConfig) (uint, error) {
	for _, slot := range slots {
		if slot != cfg.Slot && cfg.TokenLabel == "" {
			continue
		}
		if cfg.TokenLabel != "" {
			info, err := module.GetTokenInfo(slot)
			if err != nil || info.Label != cfg.TokenLabel {
				continue
			}
		}
		return slot, nil
	}
	return 0, errors.Wrapf(ErrConfig, "no PKCS#11 slot matches slot:%d label:%q", cfg.Slot, cfg.TokenLabel)
}
