// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package kdf

// Engine binds a KDF adapter to a fixed info string.
type Engine struct {
	adapter KDFAdapter
	info    []byte
}

// NewEngine returns an HKDF-SHA256 engine using info as the context string.
// An empty info selects DefaultInfo.
func NewEngine(info string) *Engine {
	if info == "" {
		info = DefaultInfo
	}
	return &Engine{
		adapter: NewHKDFAdapter(),
		info:    []byte(info),
	}
}

// Info returns the engine's context string.
func (e *Engine) Info() string {
	return string(e.info)
}

// DeriveWrappingKey derives the 256-bit wrapping key for a credential.
func (e *Engine) DeriveWrappingKey(deviceSecret, salt []byte) ([]byte, error) {
	return DeriveWrappingKey(e.adapter, deviceSecret, salt, e.info)
}

// DeriveWrappingKey is the pure derivation function. A nil adapter selects HKDF.
func DeriveWrappingKey(adapter KDFAdapter, deviceSecret, salt, info []byte) ([]byte, error) {
	if adapter == nil {
		adapter = NewHKDFAdapter()
	}
	params := DefaultParams(salt)
	params.Info = info
	return adapter.DeriveKey(deviceSecret, params)
}
