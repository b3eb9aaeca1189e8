// SPDX-FileCopyrightText: Copyright 2026 Ledgerline Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package guard gates mutating operations against production. The policy is
// pure configuration: it performs no I/O and must be consulted before any
// network call is made for the operation.
package guard

import (
	"errors"
	"fmt"

	"github.com/ledgerline/qbolink/pkg/client/config"
)

// Class identifies what kind of side effect an operation has. Only creates
// and deletes are gated; anything else passes.
type Class string

const (
	ClassCreate Class = "create"
	ClassDelete Class = "delete"
	ClassRead   Class = "read"
)

// ErrWriteDenied is returned (wrapped in a *DeniedError) when the policy
// rejects an operation.
var ErrWriteDenied = errors.New("write denied by production guard")

// DeniedError reports which flag would allow the rejected operation.
type DeniedError struct {
	Environment string
	Class       Class
	Flag        string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s operations are disabled in %s (set %s to enable)",
		e.Class, e.Environment, e.Flag)
}

func (e *DeniedError) Unwrap() error { return ErrWriteDenied }

// Decision is the outcome of evaluating an operation against the policy.
type Decision struct {
	Allowed     bool
	Environment string
}

// Policy decides whether mutating operations may run in the active
// environment. Non-production environments are always allowed; production
// gates creates and deletes independently.
type Policy struct {
	Environment            string
	AllowProductionCreates bool
	AllowProductionDeletes bool
}

// FromConfig builds the policy from resolved configuration.
func FromConfig(cfg *config.Config) Policy {
	return Policy{
		Environment:            cfg.Environment,
		AllowProductionCreates: cfg.AllowProductionCreates,
		AllowProductionDeletes: cfg.AllowProductionDeletes,
	}
}

// Evaluate returns the decision for an operation class.
func (p Policy) Evaluate(class Class) Decision {
	d := Decision{Allowed: true, Environment: p.Environment}
	if p.Environment != config.EnvProduction {
		return d
	}
	switch class {
	case ClassCreate:
		d.Allowed = p.AllowProductionCreates
	case ClassDelete:
		d.Allowed = p.AllowProductionDeletes
	}
	return d
}

// Check returns nil when the operation may proceed, or a *DeniedError
// naming the flag that would enable it.
func (p Policy) Check(class Class) error {
	if p.Evaluate(class).Allowed {
		return nil
	}
	flag := "allow_production_creates"
	if class == ClassDelete {
		flag = "allow_production_deletes"
	}
	return &DeniedError{Environment: p.Environment, Class: class, Flag: flag}
}
