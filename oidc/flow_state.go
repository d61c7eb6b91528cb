// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

// FlowState is the state of an authentication attempt.
type FlowState int

const (
	Idle FlowState = iota
	AwaitingCallback
	Validating
	Exchanging
	Succeeded
	Failed
)

// String returns the state's name
func (s FlowState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingCallback:
		return "awaiting_callback"
	case Validating:
		return "validating"
	case Exchanging:
		return "exchanging"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal reports whether no transition leaves the state.
func (s FlowState) IsTerminal() bool {
	return s == Succeeded || s == Failed
}

// transitions is the set of legal state transitions.  Any state except a
// terminal one may move to Failed.
var transitions = map[FlowState][]FlowState{
	Idle:             {AwaitingCallback, Failed},
	AwaitingCallback: {Validating, Failed},
	Validating:       {Exchanging, Failed},
	Exchanging:       {Succeeded, Failed},
}

// canTransition reports whether from -> to is a legal transition.
func canTransition(from, to FlowState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reason is the failure reason of an attempt which ended in the Failed state.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonConfigError       Reason = "config_error"
	ReasonBrowserLaunch     Reason = "browser_launch_error"
	ReasonPortUnavailable   Reason = "port_unavailable"
	ReasonTimeout           Reason = "timeout"
	ReasonCanceled          Reason = "canceled"
	ReasonCSRFMismatch      Reason = "csrf_mismatch"
	ReasonMalformedCallback Reason = "malformed_callback"
	ReasonLoginFailed       Reason = "login_failed"
	ReasonExchangeNetwork   Reason = "exchange_network"
	ReasonExchangeRejected  Reason = "exchange_rejected"
	ReasonMalformedResponse Reason = "malformed_response"
	ReasonIDTokenInvalid    Reason = "id_token_invalid"
	ReasonInternal          Reason = "internal"
)

// reasons maps each sentinel to its Reason; order matters only for errors
// which wrap more than one sentinel.
var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrInvalidConfig, ReasonConfigError},
	{ErrInvalidCACert, ReasonConfigError},
	{ErrBrowserLaunch, ReasonBrowserLaunch},
	{ErrPortUnavailable, ReasonPortUnavailable},
	{ErrTimeout, ReasonTimeout},
	{ErrCanceled, ReasonCanceled},
	{ErrCSRFMismatch, ReasonCSRFMismatch},
	{ErrLoginFailed, ReasonLoginFailed},
	{ErrMalformedCallback, ReasonMalformedCallback},
	{ErrExchangeNetwork, ReasonExchangeNetwork},
	{ErrExchangeRejected, ReasonExchangeRejected},
	{ErrMalformedTokenResponse, ReasonMalformedResponse},
	{ErrIDTokenVerificationFailed, ReasonIDTokenInvalid},
}

// ReasonOf classifies an error returned by Authenticate.  It returns
// ReasonNone for a nil error and ReasonInternal for an error it doesn't
// recognize.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// Transition describes a single state change of an attempt.  Transitions are
// reported to the hook set with WithTransitionHook.
type Transition struct {
	// AttemptID is the non-secret correlation id of the attempt.
	AttemptID string
	From      FlowState
	To        FlowState
	// Reason is set when To is Failed.
	Reason Reason
}
