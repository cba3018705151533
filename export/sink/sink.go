// Package sink holds the export destinations.
package sink

import (
	"fmt"

	"github.com/maxpert/slotkeeper/cfg"
	"github.com/maxpert/slotkeeper/export"
)

const (
	TypeNats  = "nats"
	TypeKafka = "kafka"
)

// New builds the sink described by c.
func New(c cfg.SinkConfiguration) (export.Sink, error) {
	switch c.Type {
	case TypeNats:
		if c.NatsURL == "" {
			return nil, fmt.Errorf("sink %s: nats sink requires nats_url", c.Name)
		}
		return NewNats(c.NatsURL)
	case TypeKafka:
		kc := DefaultKafkaConfig(c.Brokers)
		if c.BatchSize > 0 {
			kc.BatchSize = c.BatchSize
		}
		return NewKafka(kc)
	default:
		return nil, fmt.Errorf("sink %s: unknown type %q", c.Name, c.Type)
	}
}

// WorkerConfig builds the sink and filter for c.
func WorkerConfig(c cfg.SinkConfiguration) (export.WorkerConfig, error) {
	filter, err := export.NewFilter(c.FilterTypes, c.FilterArtifacts)
	if err != nil {
		return export.WorkerConfig{}, fmt.Errorf("sink %s: %w", c.Name, err)
	}
	s, err := New(c)
	if err != nil {
		return export.WorkerConfig{}, err
	}
	return export.WorkerConfig{
		Name:            c.Name,
		Sink:            s,
		Filter:          filter,
		TopicPrefix:     c.TopicPrefix,
		BatchSize:       c.BatchSize,
		PollInterval:    cfg.Millis(c.PollIntervalMS),
		RetryInitial:    cfg.Millis(c.RetryInitialMS),
		RetryMax:        cfg.Millis(c.RetryMaxMS),
		RetryMultiplier: c.RetryMultiplier,
	}, nil
}
