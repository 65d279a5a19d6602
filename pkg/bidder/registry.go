// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bidder

import (
	"errors"

	"github.com/luxfi/postauction/pkg/event"
)

// Factory builds an Adapter from Config, mirroring the original C++'s
// BidderInterface::registerFactory and the thenexusengine pack repo's
// ortb/registry.go dynamic-adapter registry: the bidder-interface
// implementation is selected by a short config-driven tag rather than
// compiled in directly.
type Factory func(cfg Config, injector *InjectionQueue, diagnostics chan<- event.Diagnostic, metrics Observer) *Adapter

var factories = map[string]Factory{
	"http": func(cfg Config, injector *InjectionQueue, diagnostics chan<- event.Diagnostic, metrics Observer) *Adapter {
		return New(cfg, injector, diagnostics, metrics)
	},
}

// RegisterFactory registers a named bidder-interface implementation.
// Only "http" ships with this package; additional transports (e.g. a
// "zmq" variant, as the original C++ supported) register themselves
// the same way from their own init().
func RegisterFactory(name string, f Factory) { factories[name] = f }

// NewAdapter builds a registered bidder-interface implementation by
// name.
func NewAdapter(name string, cfg Config, injector *InjectionQueue, diagnostics chan<- event.Diagnostic, metrics Observer) (*Adapter, error) {
	f, ok := factories[name]
	if !ok {
		return nil, errors.New("bidder: unknown bidder-interface " + name)
	}
	return f(cfg, injector, diagnostics, metrics), nil
}
