package ledger

import "errors"

var (
	ErrAccountNotFound = errors.New("ledger: account not found")
	ErrVariantMismatch = errors.New("ledger: account payload does not match kind")
	ErrKindChange      = errors.New("ledger: patch may not change account id or kind")
	ErrNegativePoints  = errors.New("ledger: points may not be negative")
	ErrNoPool          = errors.New("ledger: no family pool")
	ErrPoolExists      = errors.New("ledger: family pool already exists")
	ErrSelfRemoval     = errors.New("ledger: use LeavePool to remove yourself")
)
