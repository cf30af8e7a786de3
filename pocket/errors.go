package pocket

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectorKind enumerates the failure modes a Connector can report (spec §4.1, §7).
type ConnectorKind int

const (
	ConnectorConnectionFailed ConnectorKind = iota
	ConnectorTimeout
	ConnectorMaxAttempts
	ConnectorClosed
	ConnectorCustom
)

func (k ConnectorKind) String() string {
	switch k {
	case ConnectorConnectionFailed:
		return "ConnectionFailed"
	case ConnectorTimeout:
		return "Timeout"
	case ConnectorMaxAttempts:
		return "MaxAttempts"
	case ConnectorClosed:
		return "Closed"
	case ConnectorCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// ConnectorError is returned by Connector implementations.
type ConnectorError struct {
	Kind    ConnectorKind
	Message string
	Err     error
}

func (e *ConnectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connector: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("connector: %s: %s", e.Kind, e.Message)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

func NewConnectorError(kind ConnectorKind, message string, err error) *ConnectorError {
	return &ConnectorError{Kind: kind, Message: message, Err: err}
}

// CoreKind enumerates engine-level (non-domain) failures (spec §7).
type CoreKind int

const (
	CoreWebSocket CoreKind = iota
	CoreChannelSend
	CoreChannelRecv
	CoreSsidParsing
	CoreHTTPRequest
	CoreLightweightModuleLoop
	CoreModuleNotFound
	CoreJoinTask
	CoreOther
)

func (k CoreKind) String() string {
	switch k {
	case CoreWebSocket:
		return "WebSocket"
	case CoreChannelSend:
		return "ChannelSend"
	case CoreChannelRecv:
		return "ChannelRecv"
	case CoreSsidParsing:
		return "SsidParsing"
	case CoreHTTPRequest:
		return "HttpRequest"
	case CoreLightweightModuleLoop:
		return "LightweightModuleLoop"
	case CoreModuleNotFound:
		return "ModuleNotFound"
	case CoreJoinTask:
		return "JoinTask"
	default:
		return "Other"
	}
}

// CoreError wraps infrastructure-level failures: transport, channels, parsing.
type CoreError struct {
	Kind CoreKind
	Msg  string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("core: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("core: %s: %s", e.Kind, e.Msg)
}

func (e *CoreError) Unwrap() error { return e.Err }

func NewCoreError(kind CoreKind, msg string, err error) *CoreError {
	return &CoreError{Kind: kind, Msg: msg, Err: err}
}

// PocketKind enumerates domain-level failures returned to Client callers (spec §7).
type PocketKind int

const (
	PocketGeneral PocketKind = iota
	PocketInvalidAsset
	PocketDealNotFound
	PocketFailOpenOrder
	PocketTimeout
	PocketStateBuilder
	PocketDuplicateTrade
	PocketMaxSubscriptions
	PocketSubscriptionExists
	PocketSubscriptionNotFound
	PocketHistoryInFlight
)

func (k PocketKind) String() string {
	switch k {
	case PocketGeneral:
		return "General"
	case PocketInvalidAsset:
		return "InvalidAsset"
	case PocketDealNotFound:
		return "DealNotFound"
	case PocketFailOpenOrder:
		return "FailOpenOrder"
	case PocketTimeout:
		return "Timeout"
	case PocketStateBuilder:
		return "StateBuilder"
	case PocketDuplicateTrade:
		return "DuplicateTrade"
	case PocketMaxSubscriptions:
		return "MaxSubscriptionsReached"
	case PocketSubscriptionExists:
		return "SubscriptionAlreadyExists"
	case PocketSubscriptionNotFound:
		return "SubscriptionNotFound"
	case PocketHistoryInFlight:
		return "HistoryAlreadyInFlight"
	default:
		return "Unknown"
	}
}

// PocketError is the error type returned from the Client facade's public API.
type PocketError struct {
	Kind PocketKind

	// DealNotFound
	DealID uuid.UUID

	// FailOpenOrder
	Asset   string
	Amount  string
	Reason  string

	// Timeout
	Task     string
	Context  string
	Duration time.Duration

	Msg string
	Err error
}

func (e *PocketError) Error() string {
	switch e.Kind {
	case PocketDealNotFound:
		return fmt.Sprintf("pocket: deal not found: %s", e.DealID)
	case PocketFailOpenOrder:
		return fmt.Sprintf("pocket: open order failed for %s (amount=%s): %s", e.Asset, e.Amount, e.Reason)
	case PocketTimeout:
		return fmt.Sprintf("pocket: timeout waiting for %s (%s) after %s", e.Task, e.Context, e.Duration)
	default:
		if e.Err != nil {
			return fmt.Sprintf("pocket: %s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("pocket: %s: %s", e.Kind, e.Msg)
	}
}

func (e *PocketError) Unwrap() error { return e.Err }

func NewPocketError(kind PocketKind, msg string, err error) *PocketError {
	return &PocketError{Kind: kind, Msg: msg, Err: err}
}

func NewDealNotFoundError(id uuid.UUID) *PocketError {
	return &PocketError{Kind: PocketDealNotFound, DealID: id}
}

func NewFailOpenOrderError(asset, amount, reason string) *PocketError {
	return &PocketError{Kind: PocketFailOpenOrder, Asset: asset, Amount: amount, Reason: reason}
}

func NewTimeoutError(task, context string, duration time.Duration) *PocketError {
	return &PocketError{Kind: PocketTimeout, Task: task, Context: context, Duration: duration}
}

// errClosed is a sentinel used to recognize channel-closure as cancellation rather
// than a true protocol error in module loops.
var errClosed = errors.New("pocket: channel closed")

// ErrClosed reports whether err represents routine channel/mailbox closure.
func ErrClosed(err error) bool {
	return errors.Is(err, errClosed)
}
