package monitor

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotEditable    = errors.New("order can only be edited while pending")
	ErrOrderNotCancellable = errors.New("order can only be cancelled while pending")
	ErrInvalidTarget       = errors.New("invalid target price")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidLeverage     = errors.New("leverage must be at least 1")
	ErrInvalidSide         = errors.New("side must be long or short")
)
