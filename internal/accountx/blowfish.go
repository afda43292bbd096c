package accountx

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/crypto/blowfish"
)

const blockSize = 8

// obfuscatedService Blowfish-ECB decrypts an inbound 147/186 payload before
// forwarding it to the wrapped Service, mirroring the teacher's Blowfish-ECB
// wrapping of its own pre-ISAAC login channel — repurposed here as an
// optional obfuscation layer over the otherwise-opaque account-create and
// account-recover opcode payloads. Responses stay a single unobfuscated
// byte, matching the rest of the handshake response contract.
type obfuscatedService struct {
	inner  Service
	cipher *blowfish.Cipher
}

// NewObfuscated wraps svc so CreateAccount/RecoverAccount payloads are
// Blowfish-ECB decrypted with key before reaching it. A client obfuscating
// its payload is expected to zero-pad it to a multiple of blockSize; the
// padding is trimmed after decryption.
func NewObfuscated(svc Service, key []byte) (Service, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("accountx: creating blowfish cipher: %w", err)
	}
	return &obfuscatedService{inner: svc, cipher: c}, nil
}

func (o *obfuscatedService) CreateAccount(ctx context.Context, payload []byte) (byte, error) {
	plain, err := o.decrypt(payload)
	if err != nil {
		return ResponseRejected, err
	}
	return o.inner.CreateAccount(ctx, plain)
}

func (o *obfuscatedService) RecoverAccount(ctx context.Context, payload []byte) (byte, error) {
	plain, err := o.decrypt(payload)
	if err != nil {
		return ResponseRejected, err
	}
	return o.inner.RecoverAccount(ctx, plain)
}

func (o *obfuscatedService) decrypt(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}
	if len(payload)%blockSize != 0 {
		return nil, fmt.Errorf("accountx: payload length %d is not a multiple of %d", len(payload), blockSize)
	}
	out := make([]byte, len(payload))
	for i := 0; i < len(payload); i += blockSize {
		o.cipher.Decrypt(out[i:i+blockSize], payload[i:i+blockSize])
	}
	return bytes.TrimRight(out, "\x00"), nil
}
