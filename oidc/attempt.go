// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/hashicorp/cap-desktop/sdk/id"
	"github.com/hashicorp/go-hclog"
)

// attemptIDPrefix is the prefix of every attempt's correlation id.
const attemptIDPrefix = "att"

// Attempt holds the material and state of a single authentication attempt.
// It's created at the start of Authenticate and discarded when Authenticate
// returns; it's never persisted or shared.  The CSRF token, nonce and
// verifier are secret and must never be logged.
type Attempt struct {
	id        string
	csrfToken string
	nonce     string
	verifier  CodeVerifier

	redirectURL string
	state       FlowState
	reason      Reason

	logger hclog.Logger
	hook   func(Transition)
}

// newAttempt generates fresh material for an attempt in the Idle state.
func newAttempt(logger hclog.Logger, hook func(Transition)) (*Attempt, error) {
	const op = "newAttempt"
	attemptID, err := id.New(attemptIDPrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
	}
	csrfToken, verifier := GenerateMaterial()
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Attempt{
		id:        attemptID,
		csrfToken: csrfToken,
		nonce:     NewCSRFToken(),
		verifier:  verifier,
		state:     Idle,
		logger:    logger.With("attempt_id", attemptID),
		hook:      hook,
	}, nil
}

// ID returns the attempt's non-secret correlation id.
func (a *Attempt) ID() string { return a.id }

// State returns the attempt's current state.
func (a *Attempt) State() FlowState { return a.state }

// Reason returns the attempt's failure reason (ReasonNone unless Failed).
func (a *Attempt) Reason() Reason { return a.reason }

// transition moves the attempt to the next state.  An illegal transition is a
// programming error and returns ErrInternal.
func (a *Attempt) transition(to FlowState) error {
	const op = "Attempt.transition"
	if !canTransition(a.state, to) {
		return fmt.Errorf("%s: illegal transition %s -> %s: %w", op, a.state, to, ErrInternal)
	}
	from := a.state
	a.state = to
	a.logger.Debug("state transition", "from", from, "to", to)
	if a.hook != nil {
		a.hook(Transition{AttemptID: a.id, From: from, To: to})
	}
	return nil
}

// fail moves the attempt to Failed with the reason derived from err, and
// returns err.  If the attempt already ended, err is returned unchanged.
func (a *Attempt) fail(err error) error {
	if a.state.IsTerminal() {
		return err
	}
	from := a.state
	a.state = Failed
	a.reason = ReasonOf(err)
	a.logger.Debug("state transition", "from", from, "to", Failed, "reason", a.reason)
	if a.hook != nil {
		a.hook(Transition{AttemptID: a.id, From: from, To: Failed, Reason: a.reason})
	}
	return err
}
