// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafkaflow

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/streamfold/flow"
)

// TLSConfig holds TLS/mTLS configuration for secure Kafka connections.
// Certificates may be supplied as a file path or as raw PEM data; if both
// are set for a field, the file path wins.
type TLSConfig struct {
	CertFile string
	CertData []byte

	KeyFile string
	KeyData []byte

	CAFile string
	CAData []byte

	ServerName string
	MinVersion uint16
	MaxVersion uint16
}

func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		MinVersion: cfg.MinVersion,
		MaxVersion: cfg.MaxVersion,
		ServerName: cfg.ServerName,
	}

	certData, err := loadPEM(cfg.CertFile, cfg.CertData)
	if err != nil {
		return nil, fmt.Errorf("kafkaflow: failed to load client certificate: %w", err)
	}
	keyData, err := loadPEM(cfg.KeyFile, cfg.KeyData)
	if err != nil {
		return nil, fmt.Errorf("kafkaflow: failed to load client key: %w", err)
	}
	if len(certData) > 0 && len(keyData) > 0 {
		cert, err := tls.X509KeyPair(certData, keyData)
		if err != nil {
			return nil, fmt.Errorf("kafkaflow: failed to parse client certificate/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	caData, err := loadPEM(cfg.CAFile, cfg.CAData)
	if err != nil {
		return nil, fmt.Errorf("kafkaflow: failed to load CA certificate: %w", err)
	}
	if len(caData) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("kafkaflow: failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

func loadPEM(file string, data []byte) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	return data, nil
}

// PartitionHook is called around a partition lifecycle transition.
// Recovery hooks run after [flow.EagerRecovery] completes and before the
// partition starts consuming; revoke hooks run before the flush-on-revoke
// attempt. A host application can use these to gate readiness probes.
type PartitionHook func(ctx context.Context, topic string, partition int32)

type options[S any] struct {
	timer                     flow.TimerConfig
	additionalPersistCooldown time.Duration
	commitOffsetsInterval     time.Duration
	sessionTimeout            time.Duration
	rebalanceTimeout          time.Duration
	fetchMaxBytes             int32
	maxConcurrentFetches      int
	tlsConfig                 *TLSConfig
	clock                     flow.Clock
	log                       *slog.Logger

	onPartitionActivated  PartitionHook
	onPartitionWillRevoke PartitionHook
}

func defaultOptions[S any]() *options[S] {
	return &options[S]{
		timer: flow.TimerConfig{
			FireEvery:     time.Second,
			PersistEvery:  30 * time.Second,
			FlushOnRevoke: true,
		},
		additionalPersistCooldown: 5 * time.Second,
		commitOffsetsInterval:     5 * time.Second,
		sessionTimeout:            45 * time.Second,
		rebalanceTimeout:          30 * time.Second,
		fetchMaxBytes:             50 * 1024 * 1024,
	}
}

// Option configures a [Runtime].
type Option[S any] func(*options[S])

// FireEvery sets how often persist eligibility is re-evaluated, at minimum.
func FireEvery[S any](d time.Duration) Option[S] {
	return func(o *options[S]) { o.timer.FireEvery = d }
}

// PersistEvery sets the minimum interval between regular persists of a
// single key.
func PersistEvery[S any](d time.Duration) Option[S] {
	return func(o *options[S]) { o.timer.PersistEvery = d }
}

// AdditionalPersistCooldown sets the minimum interval between two
// additional persists of the same key, requested via [flow.Extras].
func AdditionalPersistCooldown[S any](d time.Duration) Option[S] {
	return func(o *options[S]) { o.additionalPersistCooldown = d }
}

// FlushOnRevoke controls whether a partition attempts one final persist of
// every dirty key before releasing it on revoke. Default true.
func FlushOnRevoke[S any](enabled bool) Option[S] {
	return func(o *options[S]) { o.timer.FlushOnRevoke = enabled }
}

// IgnorePersistErrors controls whether a persist failure is logged and
// swallowed (true) or fatal to the partition (false, the default).
func IgnorePersistErrors[S any](enabled bool) Option[S] {
	return func(o *options[S]) { o.timer.IgnorePersistErrors = enabled }
}

// CommitOffsetsInterval sets the minimum interval between scheduled
// commits, once the partition's first commit has fired.
func CommitOffsetsInterval[S any](d time.Duration) Option[S] {
	return func(o *options[S]) { o.commitOffsetsInterval = d }
}

// SessionTimeout sets the Kafka consumer group session timeout.
func SessionTimeout[S any](d time.Duration) Option[S] {
	return func(o *options[S]) { o.sessionTimeout = d }
}

// RebalanceTimeout sets the Kafka consumer group rebalance timeout.
func RebalanceTimeout[S any](d time.Duration) Option[S] {
	return func(o *options[S]) { o.rebalanceTimeout = d }
}

// FetchMaxBytes sets the maximum total bytes to buffer from fetch
// responses across all partitions.
func FetchMaxBytes[S any](n int32) Option[S] {
	return func(o *options[S]) { o.fetchMaxBytes = n }
}

// MaxConcurrentFetches sets the maximum number of concurrent fetch
// requests. Zero means unlimited.
func MaxConcurrentFetches[S any](n int) Option[S] {
	return func(o *options[S]) { o.maxConcurrentFetches = n }
}

// WithTLS configures TLS/mTLS for connections to Kafka brokers.
func WithTLS[S any](cfg TLSConfig) Option[S] {
	return func(o *options[S]) { o.tlsConfig = &cfg }
}

// WithClock overrides the clock PartitionFlow uses to evaluate timers.
// Intended for tests.
func WithClock[S any](clock flow.Clock) Option[S] {
	return func(o *options[S]) { o.clock = clock }
}

// WithLogger overrides the runtime's logger. Default is slog.Default().
func WithLogger[S any](log *slog.Logger) Option[S] {
	return func(o *options[S]) { o.log = log }
}

// OnPartitionActivated registers a hook fired once a partition has
// finished eager recovery and is about to start consuming.
func OnPartitionActivated[S any](hook PartitionHook) Option[S] {
	return func(o *options[S]) { o.onPartitionActivated = hook }
}

// OnPartitionWillRevoke registers a hook fired just before a partition's
// flush-on-revoke attempt.
func OnPartitionWillRevoke[S any](hook PartitionHook) Option[S] {
	return func(o *options[S]) { o.onPartitionWillRevoke = hook }
}
