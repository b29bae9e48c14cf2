package event

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Strob0t/tideway/internal/domain"
)

// MaxTopicLength is the longest accepted topic name in bytes.
const MaxTopicLength = 256

// TopicSeparator splits multiple topics in a single header value.
const TopicSeparator = ","

// ValidateTopic reports whether name is a usable topic.
func ValidateTopic(name string) error {
	if name == "" {
		return fmt.Errorf("topic is required: %w", domain.ErrInvalidTopic)
	}
	if len(name) > MaxTopicLength {
		return fmt.Errorf("topic exceeds %d bytes: %w", MaxTopicLength, domain.ErrInvalidTopic)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("topic has surrounding whitespace: %w", domain.ErrInvalidTopic)
	}
	if strings.Contains(name, TopicSeparator) {
		return fmt.Errorf("topic contains %q: %w", TopicSeparator, domain.ErrInvalidTopic)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("topic contains control characters: %w", domain.ErrInvalidTopic)
		}
	}
	return nil
}

// ParseTopics splits a comma-separated header value into validated topics.
// Members are trimmed and deduplicated in first-seen order; an empty member
// is an error.
func ParseTopics(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("x-sse-topic header is required: %w", domain.ErrInvalidTopic)
	}

	parts := strings.Split(raw, TopicSeparator)
	topics := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, p := range parts {
		topic := strings.TrimSpace(p)
		if topic == "" {
			return nil, fmt.Errorf("x-sse-topic contains empty topic value: %w", domain.ErrInvalidTopic)
		}
		if err := ValidateTopic(topic); err != nil {
			return nil, err
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics, nil
}

// ParseStreamTopic parses the topic header of a stream request. A stream
// subscribes to exactly one topic.
func ParseStreamTopic(raw string) (string, error) {
	topics, err := ParseTopics(raw)
	if err != nil {
		return "", err
	}
	if len(topics) != 1 {
		return "", fmt.Errorf("stream accepts exactly one topic, got %d: %w", len(topics), domain.ErrInvalidTopic)
	}
	return topics[0], nil
}

// MaxSubscriberIDLength is the longest accepted subscriber id in bytes.
const MaxSubscriberIDLength = 256

// ValidateSubscriberID reports whether id can name a subscriber. The id is
// echoed in the connected comment, so control characters are rejected.
func ValidateSubscriberID(id string) error {
	if id == "" {
		return fmt.Errorf("subscriber id is required: %w", domain.ErrValidation)
	}
	if len(id) > MaxSubscriberIDLength {
		return fmt.Errorf("subscriber id exceeds %d bytes: %w", MaxSubscriberIDLength, domain.ErrValidation)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("subscriber id contains control characters: %w", domain.ErrValidation)
		}
	}
	return nil
}
