// Package factory provides a small generic registry used to pick pluggable
// station modules (allocation strategies, metrics sinks) from configuration.
// A module is described by a type string and a map of raw settings; factories
// decode the settings into typed structs and return the implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[allocation.Allocator]()
//	reg.Register("fair_share", func(map[string]any) (allocation.Allocator, error) {
//	    return allocation.FairShareAllocator{}, nil
//	})
//	a, err := reg.Create(factory.ModuleConfig{Type: "fair_share"})
package factory
