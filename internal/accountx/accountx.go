// Package accountx handles the two handshake opcodes the distilled spec
// lists but leaves undescribed: 147 (account create) and 186 (account
// recover). Both are raw-payload passthroughs to an extended AuthService
// surface; the core imposes no fixed layout on the payload and returns a
// single-byte acknowledgement/error code, mirroring the opcode 14/15
// handshake response shape.
package accountx

import "context"

// Response codes, mirroring the login-handshake single-byte contract.
const (
	ResponseOK             byte = 0
	ResponseAlreadyExists  byte = 1
	ResponseNotFound       byte = 2
	ResponseRejected       byte = 3
	ResponseServiceOffline byte = 4
)

// Service is the extended AuthService surface these two opcodes forward
// to. It is deliberately separate from authsvc.Service: account
// management is account-service policy, not something the core enforces.
type Service interface {
	CreateAccount(ctx context.Context, payload []byte) (byte, error)
	RecoverAccount(ctx context.Context, payload []byte) (byte, error)
}

// NoopService rejects every account-management request; it stands in when
// no account-management backend is configured, so handshake opcodes 147
// and 186 still terminate cleanly instead of hanging the session.
type NoopService struct{}

func (NoopService) CreateAccount(context.Context, []byte) (byte, error) {
	return ResponseServiceOffline, nil
}

func (NoopService) RecoverAccount(context.Context, []byte) (byte, error) {
	return ResponseServiceOffline, nil
}

// HandleCreate forwards a raw account-create payload and returns the
// single-byte response to write back to the client.
func HandleCreate(ctx context.Context, svc Service, payload []byte) byte {
	code, err := svc.CreateAccount(ctx, payload)
	if err != nil {
		return ResponseRejected
	}
	return code
}

// HandleRecover forwards a raw account-recover payload and returns the
// single-byte response to write back to the client.
func HandleRecover(ctx context.Context, svc Service, payload []byte) byte {
	code, err := svc.RecoverAccount(ctx, payload)
	if err != nil {
		return ResponseRejected
	}
	return code
}
