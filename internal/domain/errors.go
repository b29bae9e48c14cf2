// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates that input failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrInvalidTopic indicates an empty or malformed topic name.
var ErrInvalidTopic = errors.New("invalid topic")

// ErrPayloadTooLarge indicates a publish payload above the configured maximum.
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrUnauthorized indicates the bearer token was rejected by the authorizer.
var ErrUnauthorized = errors.New("unauthorized")

// ErrSubscriberOverflow indicates a full subscriber queue under the reject policy.
var ErrSubscriberOverflow = errors.New("subscriber overflow")

// ErrConnectionClosed is the terminal state of a subscriber channel.
var ErrConnectionClosed = errors.New("connection closed")
