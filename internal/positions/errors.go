package positions

import "errors"

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrPositionNotFound   = errors.New("position not found")
	ErrAlreadyClosed      = errors.New("position already closed")
	ErrInvalidLeverage    = errors.New("leverage must be at least 1")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrInvalidPrice       = errors.New("price must be positive")
)
