package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future codec migration.
const (
	DomainProgram = "fuzzamoto/program/v1"
	DomainContext = "fuzzamoto/context/v1"
	DomainInput   = "fuzzamoto/input/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramID computes the content-addressed ID of a program over its codec
// bytes. Execution metadata and run records are keyed by this ID.
func ProgramID(p *Program) (string, error) {
	data, err := EncodeProgram(p)
	if err != nil {
		return "", fmt.Errorf("ProgramID: %w", err)
	}
	return hashWithDomain(DomainProgram, data), nil
}

// ContextID computes the content-addressed ID of a context blob.
func ContextID(c *FullProgramContext) (string, error) {
	data, err := EncodeContext(c)
	if err != nil {
		return "", fmt.Errorf("ContextID: %w", err)
	}
	return hashWithDomain(DomainContext, data), nil
}

// InputID identifies a raw fuzz input.
func InputID(data []byte) string {
	return hashWithDomain(DomainInput, data)
}

// MustProgramID is like ProgramID but panics on error.
// Use only in tests or when the program is known to encode.
func MustProgramID(p *Program) string {
	id, err := ProgramID(p)
	if err != nil {
		panic(err)
	}
	return id
}
