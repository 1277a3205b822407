// Package model defines the provider-agnostic generation abstractions used
// by the direct engine backend.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool call representation across vendors (ToolSpec, Response.ToolCalls)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockGenerator)
//
// Providers (e.g. OpenAI, Anthropic) implement the Generator interface from
// this package so the engine remains decoupled from vendor SDKs.
package model
