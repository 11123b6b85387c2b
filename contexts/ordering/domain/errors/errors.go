package errors

import "errors"

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotPayable       = errors.New("order is not payable in its current status")
	ErrOrderNotSettleable    = errors.New("order is not settleable in its current status")
	ErrDeliverRecordNotFound = errors.New("deliver record not found")
	ErrDeliverRecordExists   = errors.New("deliver record already exists for order")
)
