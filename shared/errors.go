package shared

import (
	"errors"
	"fmt"
)

// Kind classifies consensus and sharding failures. Callers match on the kind
// with errors.Is against the Err* sentinels below.
type Kind int

const (
	KindUnknown Kind = iota
	KindStakeTooLow
	KindValidatorSetFull
	KindUnknownProducer
	KindUnknownValidator
	KindInvalidSignature
	KindDoubleSign
	KindAlreadyAllocated
	KindAccountNotAllocated
	KindShardNotFound
	KindShardFull
	KindOperationConflict
	KindOperationNotFound
	KindInvalidStrategyArity
	KindTransactionNotFound
	KindDuplicateTransaction
	KindInsufficientDelegation
	KindStakeLocked
	KindStakeNotLocked
	KindGasExceeded
	KindSerializationFailure
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindStakeTooLow:            "stake too low",
	KindValidatorSetFull:       "validator set full",
	KindUnknownProducer:        "unknown producer",
	KindUnknownValidator:       "unknown validator",
	KindInvalidSignature:       "invalid signature",
	KindDoubleSign:             "double sign",
	KindAlreadyAllocated:       "already allocated",
	KindAccountNotAllocated:    "account not allocated",
	KindShardNotFound:          "shard not found",
	KindShardFull:              "shard full",
	KindOperationConflict:      "operation conflict",
	KindOperationNotFound:      "operation not found",
	KindInvalidStrategyArity:   "invalid strategy arity",
	KindTransactionNotFound:    "transaction not found",
	KindDuplicateTransaction:   "duplicate transaction",
	KindInsufficientDelegation: "insufficient delegation",
	KindStakeLocked:            "stake locked",
	KindStakeNotLocked:         "stake not locked",
	KindGasExceeded:            "gas exceeded",
	KindSerializationFailure:   "serialization failure",
	KindStorage:                "storage",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind and a human readable detail.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is reports a match when target is an *Error of the same kind, so the
// detail string never takes part in comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	ErrStakeTooLow            = &Error{Kind: KindStakeTooLow}
	ErrValidatorSetFull       = &Error{Kind: KindValidatorSetFull}
	ErrUnknownProducer        = &Error{Kind: KindUnknownProducer}
	ErrUnknownValidator       = &Error{Kind: KindUnknownValidator}
	ErrInvalidSignature       = &Error{Kind: KindInvalidSignature}
	ErrDoubleSign             = &Error{Kind: KindDoubleSign}
	ErrAlreadyAllocated       = &Error{Kind: KindAlreadyAllocated}
	ErrAccountNotAllocated    = &Error{Kind: KindAccountNotAllocated}
	ErrShardNotFound          = &Error{Kind: KindShardNotFound}
	ErrShardFull              = &Error{Kind: KindShardFull}
	ErrOperationConflict      = &Error{Kind: KindOperationConflict}
	ErrOperationNotFound      = &Error{Kind: KindOperationNotFound}
	ErrInvalidStrategyArity   = &Error{Kind: KindInvalidStrategyArity}
	ErrTransactionNotFound    = &Error{Kind: KindTransactionNotFound}
	ErrDuplicateTransaction   = &Error{Kind: KindDuplicateTransaction}
	ErrInsufficientDelegation = &Error{Kind: KindInsufficientDelegation}
	ErrStakeLocked            = &Error{Kind: KindStakeLocked}
	ErrStakeNotLocked         = &Error{Kind: KindStakeNotLocked}
	ErrGasExceeded            = &Error{Kind: KindGasExceeded}
	ErrSerializationFailure   = &Error{Kind: KindSerializationFailure}
	ErrStorage                = &Error{Kind: KindStorage}
)
