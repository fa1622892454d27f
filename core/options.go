package core

import "go.uber.org/zap"

type options struct {
	logger          *zap.Logger
	syncWrites      bool
	recoverTornTail bool
	maxTornTail     int64
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSyncWrites fsyncs the datafile after every write.
func WithSyncWrites(sync bool) Option {
	return func(o *options) {
		o.syncWrites = sync
	}
}

// WithTornTailRecovery lets Load drop a partially written record at the end
// of the datafile, truncating the file to the last complete record, instead
// of failing with ErrTruncated. Checksum and decryption failures are never
// recovered. See WithMaxTornTail for how much may be dropped.
func WithTornTailRecovery(enabled bool) Option {
	return func(o *options) {
		o.recoverTornTail = enabled
	}
}

// WithMaxTornTail bounds the bytes torn-tail recovery may drop, default
// DefaultMaxTornTail. A damaged length field in the middle of the file
// also reads as a truncated record; when more than limit bytes follow
// it, Load fails with ErrTailTooLarge and leaves the file alone.
func WithMaxTornTail(limit int64) Option {
	return func(o *options) {
		if limit >= 0 {
			o.maxTornTail = limit
		}
	}
}
