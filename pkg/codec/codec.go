// Package codec converts provider snapshots to bytes and optionally signs
// them so snapshots read back from untrusted storage can be checked.
package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
)

// Serializer converts snapshots to and from bytes.
type Serializer interface {
	Serialize(s domain.ProviderSnapshot) ([]byte, error)
	Deserialize(data []byte) (domain.ProviderSnapshot, error)
}

// Signer produces a signature over data.
type Signer interface {
	Sign(data []byte) []byte
}

// Verifier checks a signature produced by the matching Signer.
type Verifier interface {
	Verify(data, signature []byte) bool
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(s domain.ProviderSnapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, domain.NewParseError("encode snapshot", err)
	}
	return data, nil
}

func (JSONSerializer) Deserialize(data []byte) (domain.ProviderSnapshot, error) {
	var s domain.ProviderSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.ProviderSnapshot{}, domain.NewParseError("decode snapshot", err)
	}
	return s, nil
}

// HMACSigner signs and verifies with HMAC-SHA256 under a shared key.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner copies key.
func NewHMACSigner(key []byte) *HMACSigner {
	return &HMACSigner{key: append([]byte(nil), key...)}
}

func (h *HMACSigner) Sign(data []byte) []byte {
	mac := hmac.New(sha256.New, h.key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (h *HMACSigner) Verify(data, signature []byte) bool {
	return hmac.Equal(h.Sign(data), signature)
}

// ErrSignatureMismatch is returned by Open when a payload fails verification.
var ErrSignatureMismatch = domain.NewParseError("snapshot signature mismatch", nil)

// Envelope is the stored form of a signed snapshot.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature []byte          `json:"signature,omitempty"`
}

// Seal serializes s and, when signer is non-nil, signs the payload.
func Seal(ser Serializer, signer Signer, s domain.ProviderSnapshot) ([]byte, error) {
	payload, err := ser.Serialize(s)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return payload, nil
	}
	env := Envelope{Payload: payload, Signature: signer.Sign(payload)}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, domain.NewParseError("encode envelope", err)
	}
	return data, nil
}

// Open reverses Seal. With a nil verifier data is the bare payload.
func Open(ser Serializer, verifier Verifier, data []byte) (domain.ProviderSnapshot, error) {
	if verifier == nil {
		return ser.Deserialize(data)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.ProviderSnapshot{}, domain.NewParseError("decode envelope", err)
	}
	if !verifier.Verify(env.Payload, env.Signature) {
		return domain.ProviderSnapshot{}, ErrSignatureMismatch
	}
	return ser.Deserialize(env.Payload)
}
