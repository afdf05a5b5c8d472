package caskdb

import "go.uber.org/zap"

// defaultMaxActiveFileSize matches the spec's default rollover threshold
// of 2 GiB per segment.
const defaultMaxActiveFileSize = 2 << 30

// defaultMergeThreshold is the number of immutable segments that triggers
// an automatic background merge when merging is enabled.
const defaultMergeThreshold = 100

// Option configures a DB at Open time.
type Option func(*options)

type options struct {
	maxActiveFileSize int64
	syncOnWrite       bool
	syncOnRotate      bool
	verifyChecksums   bool
	mergeEnabled      bool
	mergeThreshold    int
	logger            *zap.SugaredLogger
}

func defaultOptions() *options {
	return &options{
		maxActiveFileSize: defaultMaxActiveFileSize,
		syncOnWrite:       false,
		syncOnRotate:      true,
		verifyChecksums:   true,
		mergeEnabled:      true,
		mergeThreshold:    defaultMergeThreshold,
		logger:            zap.NewNop().Sugar(),
	}
}

// WithMaxActiveFileSize sets the size, in bytes, at which the active
// segment rotates to a new generation. Default: 2 GiB.
func WithMaxActiveFileSize(n int64) Option {
	return func(o *options) { o.maxActiveFileSize = n }
}

// WithSyncOnWrite makes every Set/Remove call fsync the active segment
// before returning. Default: false.
func WithSyncOnWrite(b bool) Option {
	return func(o *options) { o.syncOnWrite = b }
}

// WithSyncOnRotate controls whether the outgoing active segment is synced
// before being marked immutable during rotation. Default: true — strict
// durability at a small latency cost; relax it for write-heavy workloads
// that can tolerate losing an un-synced, already-rotated segment on crash.
func WithSyncOnRotate(b bool) Option {
	return func(o *options) { o.syncOnRotate = b }
}

// WithVerifyChecksums controls whether point reads and recovery verify
// each record's checksum. Default: true.
func WithVerifyChecksums(b bool) Option {
	return func(o *options) { o.verifyChecksums = b }
}

// WithMergeEnabled controls whether crossing MergeThreshold immutable
// segments triggers an automatic background merge. Default: true.
func WithMergeEnabled(b bool) Option {
	return func(o *options) { o.mergeEnabled = b }
}

// WithMergeThreshold sets the number of immutable segments that triggers
// an automatic merge. Default: 100.
func WithMergeThreshold(n int) Option {
	return func(o *options) { o.mergeThreshold = n }
}

// WithLogger supplies a structured logger for lifecycle events (open,
// recovery, rotation, merge, orphan detection). Default: a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}
