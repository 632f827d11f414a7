package vm

import "errors"

// Sentinel errors for the VM layer (spec.md §7). Each is wrapped with
// call-site context via fmt.Errorf("...: %w", err); callers can still
// match with errors.Is.
var (
	ErrInvalidInstructionEncoding = errors.New("InvalidInstructionEncoding")
	ErrPureValue                  = errors.New("PureValue")
	ErrFailedToComputeOperands    = errors.New("FailedToComputeOperands")
	ErrNoDst                      = errors.New("NoDst")
	ErrUnconstrainedResAdd        = errors.New("UnconstrainedResAdd")
	ErrUnconstrainedResJump       = errors.New("UnconstrainedResJump")
	ErrUnconstrainedResJumpRel    = errors.New("UnconstrainedResJumpRel")
	ErrUnconstrainedResAssertEq   = errors.New("UnconstrainedResAssertEq")
	ErrDiffAssertValues           = errors.New("DiffAssertValues")
	ErrCantWriteReturnPc          = errors.New("CantWriteReturnPc")
	ErrCantWriteReturnFp          = errors.New("CantWriteReturnFp")
	ErrBigintToUsize              = errors.New("BigintToUsize")
	ErrScopeStackDepth            = errors.New("scope stack must have depth 1 at end of run")
)

// ErrorMessageAttribute is a span [StartPc, EndPc] carrying a
// human-readable message; if a step fails at a pc within the span,
// the error returned by step is wrapped with Message (spec.md §7,
// §9 "Error-message attributes").
type ErrorMessageAttribute struct {
	StartPc uint64
	EndPc   uint64
	Message string
}

func (attr *ErrorMessageAttribute) covers(pcOffset uint64) bool {
	return pcOffset >= attr.StartPc && pcOffset <= attr.EndPc
}

func wrapWithAttributes(err error, pcOffset uint64, attributes []ErrorMessageAttribute) error {
	if err == nil {
		return nil
	}
	for i := range attributes {
		if attributes[i].covers(pcOffset) {
			return &attributedError{inner: err, message: attributes[i].Message}
		}
	}
	return err
}

type attributedError struct {
	inner   error
	message string
}

func (e *attributedError) Error() string {
	return e.message + ": " + e.inner.Error()
}

func (e *attributedError) Unwrap() error {
	return e.inner
}
