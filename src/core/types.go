// Package core implements the node core dispatcher (spec.md §4.1,
// GLOSSARY): the single logical Node object the host drives with clock
// ticks and three ingestion calls, wired to VL1, VL2, the peer/path
// table, the trust store, and the state-object store.
package core

import (
	"errors"

	"github.com/zerotier/node-core/src/statestore"
)

// ResultCode is returned from process calls and node operations (spec.md
// §6).
type ResultCode int

const (
	ResultOK ResultCode = 0

	// Fatal: [100,1000). The dispatcher stops on these.
	ResultOutOfMemory     ResultCode = 100
	ResultDataStoreFailed ResultCode = 101
	ResultInternal        ResultCode = 102

	// Non-fatal: [1000, inf). The engine continues.
	ResultNetworkNotFound       ResultCode = 1000
	ResultUnsupportedOperation  ResultCode = 1001
	ResultBadParameter          ResultCode = 1002
	ResultInvalidCredential     ResultCode = 1003
	ResultCollidingObject       ResultCode = 1004
	ResultNonFatalInternal      ResultCode = 1005
)

// IsFatal reports whether code requires the instance to stop (spec.md §6:
// "isFatal(x) ⇔ 100 ≤ x < 1000").
func (c ResultCode) IsFatal() bool {
	return c >= 100 && c < 1000
}

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultOutOfMemory:
		return "OUT_OF_MEMORY"
	case ResultDataStoreFailed:
		return "DATA_STORE_FAILED"
	case ResultInternal:
		return "INTERNAL"
	case ResultNetworkNotFound:
		return "NETWORK_NOT_FOUND"
	case ResultUnsupportedOperation:
		return "UNSUPPORTED_OPERATION"
	case ResultBadParameter:
		return "BAD_PARAMETER"
	case ResultInvalidCredential:
		return "INVALID_CREDENTIAL"
	case ResultCollidingObject:
		return "COLLIDING_OBJECT"
	case ResultNonFatalInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error adapts a ResultCode to the error interface so it can be returned
// and wrapped with fmt.Errorf/%w in the teacher's style.
type Error struct {
	Code ResultCode
}

func (e *Error) Error() string { return "core: " + e.Code.String() }

// AsResultCode extracts the ResultCode from an error produced by this
// package, defaulting to ResultInternal for anything else.
func AsResultCode(err error) ResultCode {
	if err == nil {
		return ResultOK
	}
	if ce, ok := err.(*Error); ok {
		return ce.Code
	}
	var dsErr *statestore.ErrDataStoreFailed
	if errors.As(err, &dsErr) {
		return ResultDataStoreFailed
	}
	return ResultInternal
}

// EventType identifies the kind of event delivered via Callbacks.Event
// (spec.md §6).
type EventType int

const (
	EventUp EventType = iota
	EventOffline
	EventOnline
	EventDown
	_ // EventCollidingIdentity: reserved (spec.md §6, code 4 - "formerly
	  // identity collision"; see SPEC_FULL.md §9 for the Open Question decision)
	EventTrace
	EventUserMessage
)

func (e EventType) String() string {
	switch e {
	case EventUp:
		return "UP"
	case EventOffline:
		return "OFFLINE"
	case EventOnline:
		return "ONLINE"
	case EventDown:
		return "DOWN"
	case EventTrace:
		return "TRACE"
	case EventUserMessage:
		return "USER_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Logger is the subset of *gologme/log.Logger the node core calls into,
// declared as an interface so the host may substitute its own (mirrors
// the teacher's core.Logger in src/core/core.go).
type Logger interface {
	Printf(string, ...interface{})
	Println(...interface{})
	Infof(string, ...interface{})
	Infoln(...interface{})
	Warnf(string, ...interface{})
	Warnln(...interface{})
	Errorf(string, ...interface{})
	Errorln(...interface{})
	Debugf(string, ...interface{})
	Debugln(...interface{})
}
