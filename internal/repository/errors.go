// Package repository implements the C5 Document Repository and C6 Chunk
// Repository (spec §4.6): atomic multi-table document writes with
// snapshot/restore rollback, rebuild modes, and chunk search.
package repository

import "fmt"

// ErrInvalidInput covers bad filters, unsupported extensions, or
// conflicting parameters (spec §7).
type ErrInvalidInput struct {
	Reason string
}

func (e ErrInvalidInput) Error() string {
	return "repository: invalid input: " + e.Reason
}

// ErrConversionFailed wraps a Converter rejection.
type ErrConversionFailed struct {
	Cause error
}

func (e ErrConversionFailed) Error() string {
	return fmt.Sprintf("repository: conversion failed: %v", e.Cause)
}

func (e ErrConversionFailed) Unwrap() error { return e.Cause }

// ErrEmbeddingFailed wraps an upstream embedder error. The client facade
// retries the transient subset of these (spec §7).
type ErrEmbeddingFailed struct {
	Cause error
}

func (e ErrEmbeddingFailed) Error() string {
	return fmt.Sprintf("repository: embedding failed: %v", e.Cause)
}

func (e ErrEmbeddingFailed) Unwrap() error { return e.Cause }

// ErrStorageFailed wraps an underlying storage error surfaced after the
// snapshot primitive has already restored prior state (spec §7).
type ErrStorageFailed struct {
	Cause error
}

func (e ErrStorageFailed) Error() string {
	return fmt.Sprintf("repository: storage failed: %v", e.Cause)
}

func (e ErrStorageFailed) Unwrap() error { return e.Cause }
