package mq

import (
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message metadata rides in kafka headers under this prefix; everything else
// is copied to Message.Headers untouched.
const metaPrefix = "cj-"

const (
	metaID         = metaPrefix + "id"
	metaTimestamp  = metaPrefix + "ts"
	metaRetryCount = metaPrefix + "retry"
	metaMaxRetries = metaPrefix + "max-retries"
	metaExpiration = metaPrefix + "ttl-ms"
)

func encodeKafka(topic string, m *Message) kafka.Message {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	meta := map[string]string{
		metaID:        m.ID,
		metaTimestamp: ts.Format(time.RFC3339Nano),
	}
	if m.RetryCount > 0 {
		meta[metaRetryCount] = strconv.Itoa(m.RetryCount)
	}
	if m.MaxRetries > 0 {
		meta[metaMaxRetries] = strconv.Itoa(m.MaxRetries)
	}
	if m.Expiration > 0 {
		meta[metaExpiration] = strconv.FormatInt(m.Expiration.Milliseconds(), 10)
	}

	headers := make([]kafka.Header, 0, len(m.Headers)+len(meta))
	for k, v := range m.Headers {
		if strings.HasPrefix(k, metaPrefix) {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	for k, v := range meta {
		if v != "" {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	return kafka.Message{Topic: topic, Key: []byte(m.ID), Value: m.Body, Headers: headers, Time: ts}
}

func decodeKafka(km kafka.Message) *Message {
	m := &Message{ID: string(km.Key), Body: km.Value, Headers: map[string]string{}, Timestamp: km.Time}
	for _, h := range km.Headers {
		v := string(h.Value)
		if !strings.HasPrefix(h.Key, metaPrefix) {
			m.Headers[h.Key] = v
			continue
		}
		switch h.Key {
		case metaID:
			m.ID = v
		case metaTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				m.Timestamp = ts
			}
		case metaRetryCount:
			m.RetryCount = nonNegative(v)
		case metaMaxRetries:
			m.MaxRetries = nonNegative(v)
		case metaExpiration:
			m.Expiration = time.Duration(nonNegative(v)) * time.Millisecond
		}
	}
	return m
}

func nonNegative(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
