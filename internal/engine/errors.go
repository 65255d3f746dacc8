package engine

import "errors"

var (
	ErrCallerRequired      = errors.New("caller identity required")
	ErrNotOwner            = errors.New("caller is not the domain owner")
	ErrNotAssigned         = errors.New("caller is not assigned to this work")
	ErrAlreadyRegistered   = errors.New("already registered")
	ErrNotRegistered       = errors.New("validator not registered")
	ErrUnknownDomain       = errors.New("unknown domain")
	ErrNotMonitored        = errors.New("domain is not monitored")
	ErrInsufficientStake   = errors.New("stake below minimum")
	ErrInvalidInterval     = errors.New("invalid check interval")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidDomain       = errors.New("invalid domain id")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientPool    = errors.New("insufficient reward pool")
	ErrNoActiveValidators  = errors.New("not enough active validators")
	ErrJobNotFound         = errors.New("job not found")
	ErrCycleNotFound       = errors.New("cycle not found")
	ErrCycleFinalized      = errors.New("cycle already finalized")
	ErrCycleExpired        = errors.New("cycle expired without submissions")
	ErrCycleOpen           = errors.New("cycle still open")
	ErrAlreadySubmitted    = errors.New("result already submitted")
	ErrCheckNotDue         = errors.New("check not due")
)

// ErrorKind classifies engine errors for transports.
type ErrorKind string

const (
	KindAuthorization ErrorKind = "authorization"
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindState         ErrorKind = "state"
	KindFunds         ErrorKind = "funds"
	KindTiming        ErrorKind = "timing"
	KindInternal      ErrorKind = "internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrCallerRequired, KindAuthorization},
	{ErrNotOwner, KindAuthorization},
	{ErrNotAssigned, KindAuthorization},
	{ErrInsufficientStake, KindValidation},
	{ErrInvalidInterval, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrInvalidDomain, KindValidation},
	{ErrUnknownDomain, KindNotFound},
	{ErrJobNotFound, KindNotFound},
	{ErrCycleNotFound, KindNotFound},
	{ErrNotRegistered, KindState},
	{ErrAlreadyRegistered, KindState},
	{ErrNotMonitored, KindState},
	{ErrCycleFinalized, KindState},
	{ErrAlreadySubmitted, KindState},
	{ErrNoActiveValidators, KindState},
	{ErrInsufficientBalance, KindFunds},
	{ErrInsufficientPool, KindFunds},
	{ErrCycleExpired, KindTiming},
	{ErrCycleOpen, KindTiming},
	{ErrCheckNotDue, KindTiming},
}

// KindOf reports the class of err; unknown errors are internal.
func KindOf(err error) ErrorKind {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
