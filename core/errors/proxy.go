package errors

import stderrors "errors"

// Every failure of a privileged proxy operation aborts the whole call with one
// of these sentinels; callers match with errors.Is.
var (
	ErrUnauthorized                 = stderrors.New("proxy: caller is not the upgrade authority")
	ErrInvalidImplementation        = stderrors.New("proxy: implementation has no executable code")
	ErrAlreadyInitialized           = stderrors.New("proxy: already initialized")
	ErrInitializerDisabled          = stderrors.New("proxy: initializer disabled")
	ErrInvalidReinitializationEpoch = stderrors.New("proxy: invalid reinitialization epoch")
	ErrUnknownInstance              = stderrors.New("proxy: unknown instance")
	ErrUnknownMethod                = stderrors.New("proxy: unknown method")
	ErrUnknownCode                  = stderrors.New("proxy: unknown code reference")
)
