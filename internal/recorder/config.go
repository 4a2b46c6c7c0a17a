package recorder

import (
	"time"

	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultQueueSize             = 4096
	defaultBufferSize            = 64 * 1024
	defaultFilePrefix            = "tape"
	fileExt                      = ".tape"
)

var defaultSegmentMaxDuration = 30 * time.Minute

// Config controls the tape writer.
type Config struct {
	Dir                string        `json:"dir" yaml:"dir"`
	SegmentMaxBytes    int64         `json:"segmentMaxBytes" yaml:"segmentMaxBytes"`
	SegmentMaxDuration time.Duration `json:"-" yaml:"-"`
	QueueSize          int           `json:"queueSize" yaml:"queueSize"`
	BufferSize         int           `json:"bufferSize" yaml:"bufferSize"`
	FilePrefix         string        `json:"filePrefix" yaml:"filePrefix"`
	FlushInterval      time.Duration `json:"-" yaml:"-"`
	SyncInterval       time.Duration `json:"-" yaml:"-"`
}

// DefaultConfig returns a baseline tape configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
		FlushInterval:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.Wrap(exception.ErrInvalidArgument, "recorder: dir is empty")
	case c.SegmentMaxBytes <= 0:
		return errors.Wrap(exception.ErrInvalidArgument, "recorder: segmentMaxBytes must be > 0")
	case c.QueueSize <= 0:
		return errors.Wrap(exception.ErrInvalidArgument, "recorder: queueSize must be > 0")
	case c.BufferSize <= 0:
		return errors.Wrap(exception.ErrInvalidArgument, "recorder: bufferSize must be > 0")
	case c.FlushInterval < 0 || c.SyncInterval < 0:
		return errors.Wrap(exception.ErrInvalidArgument, "recorder: intervals must be >= 0")
	}
	return nil
}
