package types

type Side string

type PositionStatus string

type OrderStatus string

type AccountKind string

type LedgerEntryType string

type CloseReason string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

const (
	PositionStatusOpen    PositionStatus = "OPEN"
	PositionStatusClosing PositionStatus = "CLOSING"
	PositionStatusClosed  PositionStatus = "CLOSED"
)

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusExecuting OrderStatus = "EXECUTING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

const (
	AccountKindAvailable AccountKind = "available"
	AccountKindReserved  AccountKind = "reserved"
)

const (
	LedgerEntryTypeMargin      LedgerEntryType = "margin"
	LedgerEntryTypeSettlement  LedgerEntryType = "settlement"
	LedgerEntryTypeLiquidation LedgerEntryType = "liquidation"
	LedgerEntryTypeFaucet      LedgerEntryType = "faucet"
)

const (
	CloseReasonManual     CloseReason = "manual"
	CloseReasonLiquidated CloseReason = "liquidated"
)
