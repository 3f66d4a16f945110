// Package keyserver implements threshold decryption: content is sealed
// under a data key split across independent key servers, and reading it
// requires a quorum of those servers to release their shares.
package keyserver

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"reader/internal/domain"
	"reader/internal/shamir"
)

// EnvelopeVersion is authenticated as part of the body AAD.
const EnvelopeVersion byte = 1

const dataKeySize = 32

var hkdfInfo = []byte("reader.envelope.body.v1")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("keyserver: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: shamir.MaxShares,
	}.DecMode()
	if err != nil {
		panic("keyserver: CBOR decoder initialization failed: " + err.Error())
	}
}

// Envelope is the stored form of encrypted content.
type Envelope struct {
	Version   byte          `cbor:"v"`
	ContentID string        `cbor:"content_id"`
	Threshold int           `cbor:"threshold"`
	Nonce     []byte        `cbor:"nonce"`
	Body      []byte        `cbor:"body"`
	Shares    []SealedShare `cbor:"shares"`
}

// SealedShare is one key share encrypted to a single key server.
type SealedShare struct {
	Server string `cbor:"server"`
	X      byte   `cbor:"x"`
	Sealed []byte `cbor:"sealed"`
}

// sharePayload is the plaintext inside SealedShare.Sealed. Binding the
// content ID lets a key server refuse shares replayed under another ID.
type sharePayload struct {
	ContentID string `cbor:"content_id"`
	X         byte   `cbor:"x"`
	Y         []byte `cbor:"y"`
}

// Recipient is a key server able to open shares sealed to it.
type Recipient struct {
	Server    string
	Recipient age.Recipient
}

// Seal encrypts plaintext for contentID and splits the data key so any
// threshold of recipients can release it.
func Seal(contentID string, plaintext []byte, threshold int, recipients []Recipient) ([]byte, error) {
	if contentID == "" {
		return nil, errors.New("sealing: empty content id")
	}
	if len(recipients) == 0 {
		return nil, errors.New("sealing: at least one recipient is required")
	}
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		if seen[r.Server] {
			return nil, fmt.Errorf("sealing: duplicate recipient %q", r.Server)
		}
		seen[r.Server] = true
	}

	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, fmt.Errorf("generating data key: %w", err)
	}
	defer clear(dataKey)

	parts, err := shamir.Split(dataKey, len(recipients), threshold)
	if err != nil {
		return nil, fmt.Errorf("splitting data key: %w", err)
	}

	env := Envelope{
		Version:   EnvelopeVersion,
		ContentID: contentID,
		Threshold: threshold,
		Shares:    make([]SealedShare, len(recipients)),
	}
	for i, r := range recipients {
		sealed, err := sealShare(r.Recipient, sharePayload{ContentID: contentID, X: parts[i].X, Y: parts[i].Y})
		if err != nil {
			return nil, fmt.Errorf("sealing share for %s: %w", r.Server, err)
		}
		env.Shares[i] = SealedShare{Server: r.Server, X: parts[i].X, Sealed: sealed}
	}

	aead, err := bodyCipher(dataKey, contentID)
	if err != nil {
		return nil, err
	}
	env.Nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, env.Nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	env.Body = aead.Seal(nil, env.Nonce, plaintext, buildAAD(env.Version, contentID))

	return encMode.Marshal(env)
}

// DecodeEnvelope parses and checks the structure of a stored envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %w", domain.ErrCorrupt, err)
	}
	switch {
	case env.Version != EnvelopeVersion:
		return nil, fmt.Errorf("%w: envelope version %d is not supported", domain.ErrCorrupt, env.Version)
	case env.ContentID == "":
		return nil, fmt.Errorf("%w: envelope has no content id", domain.ErrCorrupt)
	case env.Threshold < 1 || env.Threshold > len(env.Shares):
		return nil, fmt.Errorf("%w: threshold %d of %d shares", domain.ErrCorrupt, env.Threshold, len(env.Shares))
	case len(env.Nonce) != chacha20poly1305.NonceSizeX:
		return nil, fmt.Errorf("%w: nonce is %d bytes", domain.ErrCorrupt, len(env.Nonce))
	}
	return &env, nil
}

// Open combines at least Threshold shares and decrypts the body.
func (e *Envelope) Open(shares []shamir.Share) ([]byte, error) {
	if len(shares) < e.Threshold {
		return nil, fmt.Errorf("%w: have %d of %d shares", domain.ErrThresholdUnmet, len(shares), e.Threshold)
	}
	dataKey, err := shamir.Combine(shares[:e.Threshold])
	if err != nil {
		return nil, fmt.Errorf("%w: combining shares: %w", domain.ErrCorrupt, err)
	}
	defer clear(dataKey)

	aead, err := bodyCipher(dataKey, e.ContentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorrupt, err)
	}
	plain, err := aead.Open(nil, e.Nonce, e.Body, buildAAD(e.Version, e.ContentID))
	if err != nil {
		return nil, fmt.Errorf("%w: body authentication failed", domain.ErrCorrupt)
	}
	return plain, nil
}

func sealShare(r age.Recipient, p sharePayload) ([]byte, error) {
	raw, err := encMode.Marshal(p)
	if err != nil {
		return nil, err
	}
	defer clear(raw)

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("writing share: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func openShare(id age.Identity, sealed []byte) (sharePayload, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), id)
	if err != nil {
		return sharePayload{}, fmt.Errorf("decrypting share: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return sharePayload{}, fmt.Errorf("reading share: %w", err)
	}
	defer clear(raw)

	var p sharePayload
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return sharePayload{}, fmt.Errorf("decoding share: %w", err)
	}
	return p, nil
}

// bodyCipher derives the body key from the data key, separated per content.
func bodyCipher(dataKey []byte, contentID string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	defer clear(key)
	kdf := hkdf.New(sha256.New, dataKey, []byte(contentID), hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving body key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	return aead, nil
}

func buildAAD(version byte, contentID string) []byte {
	aad := make([]byte, 1+len(contentID))
	aad[0] = version
	copy(aad[1:], contentID)
	return aad
}
