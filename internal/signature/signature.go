// Package signature implements the detached OpenPGP signature provider:
// producing and verifying ASCII-armored detached signatures over the
// sealed component archives.
package signature

import (
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/darkhorselinux/dpm/internal/pkgerr"
)

// Keyring loads OpenPGP entities from an ASCII-armored keyring file and
// resolves a key_id (email, fingerprint, or short id) to the matching
// entity. It is the narrow interface the pipeline uses in place of a full
// GPG subprocess provider.
type Keyring struct {
	entities openpgp.EntityList
}

// LoadKeyring reads an ASCII-armored keyring (public and/or private keys)
// from path.
func LoadKeyring(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KeyNotFound, "opening keyring "+path, err)
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KeyNotFound, "parsing keyring "+path, err)
	}
	return &Keyring{entities: entities}, nil
}

// find resolves keyID against every identity string and the hex fingerprint
// of each entity in the keyring.
func (k *Keyring) find(keyID string) *openpgp.Entity {
	needle := strings.ToLower(keyID)
	for _, e := range k.entities {
		if e.PrimaryKey != nil {
			fp := strings.ToLower(keyFingerprint(e))
			if fp == needle || strings.HasSuffix(fp, needle) {
				return e
			}
		}
		for _, ident := range e.Identities {
			if strings.Contains(strings.ToLower(ident.Name), needle) {
				return e
			}
			if ident.UserId != nil && strings.Contains(strings.ToLower(ident.UserId.Email), needle) {
				return e
			}
		}
	}
	return nil
}

func keyFingerprint(e *openpgp.Entity) string {
	return hex.EncodeToString(e.PrimaryKey.Fingerprint)
}

// SignDetached signs the bytes of the file at payloadPath with the private
// key identified by keyID, returning an ASCII-armored detached signature.
func (k *Keyring) SignDetached(payloadPath, keyID string) ([]byte, error) {
	signer := k.find(keyID)
	if signer == nil {
		return nil, pkgerr.New(pkgerr.KeyNotFound, "no key matching "+keyID)
	}
	if signer.PrivateKey == nil {
		return nil, pkgerr.New(pkgerr.KeyUnusable, "key "+keyID+" has no private key material")
	}

	f, err := os.Open(payloadPath)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.PathNotFound, "opening "+payloadPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.SignatureType, nil)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.Undefined, "preparing armor encoder", err)
	}
	if err := openpgp.DetachSign(w, signer, f, nil); err != nil {
		return nil, pkgerr.Wrap(pkgerr.Undefined, "detached-signing "+payloadPath, err)
	}
	if err := w.Close(); err != nil {
		return nil, pkgerr.Wrap(pkgerr.Undefined, "closing armor encoder", err)
	}
	return buf.Bytes(), nil
}

// Result is the outcome of a detached-signature verification.
type Result int

const (
	Invalid Result = iota
	Valid
	UnknownKey
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "VALID"
	case UnknownKey:
		return "UNKNOWN KEY"
	default:
		return "INVALID"
	}
}

// VerifyDetached checks signatureBytes (ASCII-armored) against the bytes of
// payload using this keyring's public keys. If expectedKeyID is non-empty,
// the signer must resolve to that key.
func (k *Keyring) VerifyDetached(payload io.Reader, signatureBytes []byte, expectedKeyID string) (Result, error) {
	block, err := armor.Decode(bytes.NewReader(signatureBytes))
	if err != nil {
		return Invalid, pkgerr.Wrap(pkgerr.SignatureInvalid, "decoding armored signature", err)
	}

	signer, err := openpgp.CheckDetachedSignature(k.entities, payload, block.Body, nil)
	if err != nil {
		return Invalid, pkgerr.Wrap(pkgerr.SignatureInvalid, "checking detached signature", err)
	}
	if signer == nil {
		return UnknownKey, pkgerr.New(pkgerr.KeyNotFound, "signature made by an unknown key")
	}
	if expectedKeyID != "" {
		want := k.find(expectedKeyID)
		if want == nil || want.PrimaryKey.KeyId != signer.PrimaryKey.KeyId {
			return Invalid, pkgerr.New(pkgerr.SignatureInvalid, "signature key does not match expected "+expectedKeyID)
		}
	}
	return Valid, nil
}

// VerifyDetachedFile is VerifyDetached sourced from files on disk.
func (k *Keyring) VerifyDetachedFile(payloadPath, signaturePath, expectedKeyID string) (Result, error) {
	payload, err := os.Open(payloadPath)
	if err != nil {
		return Invalid, pkgerr.Wrap(pkgerr.PathNotFound, "opening "+payloadPath, err)
	}
	defer payload.Close()

	sig, err := os.ReadFile(signaturePath)
	if err != nil {
		return Invalid, pkgerr.Wrap(pkgerr.PathNotFound, "reading "+signaturePath, err)
	}
	return k.VerifyDetached(payload, sig, expectedKeyID)
}
