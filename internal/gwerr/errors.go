// Package gwerr declares the gateway's error-kind taxonomy (spec §7) on top
// of the kept errors package: a block of CodeError values in the gateway's
// own package range, registered with a message function exactly the way
// certificates/error.go registers its own range.
package gwerr

import (
	liberr "github.com/blitzgw/gateway/errors"
)

// MinPkgGateway picks a package code range above every range the teacher
// library already claims (errors/modules.go tops out below 4000).
const MinPkgGateway liberr.CodeError = 4000

const (
	// ErrBufferExhausted: C1 pool has no free buffer to hand out.
	ErrBufferExhausted liberr.CodeError = iota + MinPkgGateway
	// ErrPeerProtocol: malformed HTTP/1.1, illegal HTTP/2 transition, QUIC
	// frame decode failure.
	ErrPeerProtocol
	// ErrUpstreamFailure: backend connect refused, read error, timeout.
	ErrUpstreamFailure
	// ErrConfigInvalid: reload rejected at validation, no state mutated.
	ErrConfigInvalid
	// ErrCryptoFailure: TLS handshake failure, QUIC AEAD failure.
	ErrCryptoFailure
	// ErrPlatform: io_uring-equivalent loop init fails, cannot bind.
	ErrPlatform
	// ErrRateLimited: admission denied by the token bucket.
	ErrRateLimited
	// ErrSubmissionExhausted: completion loop has no submission slot free.
	ErrSubmissionExhausted
)

func init() {
	liberr.RegisterIdFctMessage(ErrBufferExhausted, message)
}

func message(code liberr.CodeError) string {
	switch code {
	case liberr.UnknownError:
		return ""
	case ErrBufferExhausted:
		return "buffer pool exhausted"
	case ErrPeerProtocol:
		return "peer protocol violation"
	case ErrUpstreamFailure:
		return "upstream request failed"
	case ErrConfigInvalid:
		return "configuration rejected"
	case ErrCryptoFailure:
		return "tls/quic crypto failure"
	case ErrPlatform:
		return "platform error"
	case ErrRateLimited:
		return "rate limit exceeded"
	case ErrSubmissionExhausted:
		return "submission queue exhausted"
	}
	return ""
}

// New builds a gwerr-flavored Error with an optional parent chain, mirroring
// the teacher's `ErrorXxx.Error(parent)` call convention.
func New(code liberr.CodeError, parent ...error) liberr.Error {
	return code.Error(parent...)
}
