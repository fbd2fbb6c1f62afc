// Package teleinfo decodes the customer telemetry output of french electricity
// meters: frames of checksummed label/value groups on a 1200 baud serial line.
package teleinfo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	readTimeout = 100 * time.Millisecond
	readWait    = 10 * time.Millisecond
)

// Stats counts frame outcomes since the reader was created.
type Stats struct {
	Frames int
	// valid groups, including those of frames aborted later on
	Groups         int
	ChecksumErrors int
	ProtocolErrors int
	Timeouts       int
	GroupErrors    int
}

// Reader decodes frames from a ByteSource and keeps the last value of every
// known group. Reading happens on the caller's goroutine.
type Reader struct {
	src          ByteSource
	continueRead atomic.Bool

	mu     sync.Mutex
	cb     *Callbacks
	values map[string]Value
	stats  Stats
}

func NewReader(src ByteSource) *Reader {
	return &Reader{
		src:    src,
		values: make(map[string]Value),
	}
}

// RegisterListener sets the callbacks notified of field changes. Only one
// listener may be registered at a time.
func (r *Reader) RegisterListener(cb Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cb != nil {
		panic("teleinfo: listener already registered")
	}
	r.cb = &cb
}

func (r *Reader) UnregisterListener() {
	r.mu.Lock()
	r.cb = nil
	r.mu.Unlock()
}

// Value returns the last decoded value of label.
func (r *Reader) Value(label string) (Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[label]
	return v, ok
}

// Values returns a copy of every decoded value.
func (r *Reader) Values() map[string]Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := make(map[string]Value, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return values
}

func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// StartRead reads frames until StopRead is called or ctx is done. Frame
// errors are logged and reading resumes at the next frame start. Errors of
// the byte source itself are returned.
func (r *Reader) StartRead(ctx context.Context) error {
	r.continueRead.Store(true)
	for {
		b, err := r.readByte(ctx)
		if err != nil {
			switch errors.Cause(err) {
			case ErrStopped:
				return nil
			case ErrReadTimeout:
				continue
			}
			return err
		}

		switch b {
		case startText:
			err = r.readInfoGroups(ctx)
			r.frameDone(err)
			if err != nil && !isFrameError(err) {
				if errors.Cause(err) == ErrStopped {
					return nil
				}
				return err
			}
		case endText:
			log.Debug("end of frame")
		case endOfText:
			log.Info("end of text")
		default:
			log.WithField("byte", b).Debug("discarding byte outside of a frame")
		}
	}
}

// StopRead makes StartRead return at the next byte boundary.
func (r *Reader) StopRead() {
	r.continueRead.Store(false)
}

// ReadFrame waits for the next frame start and reads that frame, all within
// timeout.
func (r *Reader) ReadFrame(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	r.continueRead.Store(true)
	for {
		b, err := r.readByte(ctx)
		if err != nil {
			if errors.Cause(err) == ErrReadTimeout {
				continue
			}
			return err
		}
		switch b {
		case startText:
			err = r.readInfoGroups(ctx)
			r.frameDone(err)
			return err
		case endText, endOfText:
			log.Debug("frame already ended")
		}
	}
}

func (r *Reader) frameDone(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.stats.Frames++
		log.Debug("info groups successfully read")
		return
	}
	switch errors.Cause(err) {
	case ErrInvalidChecksum:
		r.stats.ChecksumErrors++
	case ErrReadTimeout:
		r.stats.Timeouts++
	case ErrInvalidRead, ErrInvalidLength:
		r.stats.ProtocolErrors++
	default:
		return
	}
	log.WithField("err", err).Error("cannot read information groups")
}

// readInfoGroups reads groups up to the end of the frame.
func (r *Reader) readInfoGroups(ctx context.Context) error {
	for {
		b, err := r.readByte(ctx)
		if err != nil {
			return err
		}
		switch b {
		case lineFeed:
			err = r.readInfoGroup(ctx)
			if ge, ok := err.(*GroupError); ok {
				r.mu.Lock()
				r.stats.GroupErrors++
				r.mu.Unlock()
				log.WithField("label", ge.Label).
					WithField("err", ge.Err).
					Warn("information group skipped")
			} else if err != nil {
				return err
			}
		case endText:
			log.Debug("end of frame")
			return nil
		case endOfText:
			log.Info("end of text - frame interrupted")
			return nil
		default:
			return errors.Wrapf(ErrInvalidRead, "unexpected byte 0x%02x between groups", b)
		}
	}
}

func (r *Reader) readInfoGroup(ctx context.Context) error {
	label, err := r.readGroupField(ctx, labelMaxLength)
	if err != nil {
		return errors.Wrap(err, "cannot read group label")
	}
	value, err := r.readGroupField(ctx, valueMaxLength)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s value", label)
	}

	crc, err := r.readByte(ctx)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s checksum", label)
	}
	if expected := Checksum(label, value); crc != expected {
		return errors.Wrapf(ErrInvalidChecksum, "group %s: got 0x%02x, expected 0x%02x", label, crc, expected)
	}

	b, err := r.readByte(ctx)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s trailer", label)
	}
	if b != carriageRet {
		return errors.Wrapf(ErrInvalidRead, "group %s: got 0x%02x, expected CR", label, b)
	}
	return r.parseGroup(string(label), value)
}

// readGroupField reads up to maxLength bytes terminated by a space.
func (r *Reader) readGroupField(ctx context.Context, maxLength int) ([]byte, error) {
	buf := make([]byte, 0, maxLength)
	for i := 0; i <= maxLength; i++ {
		b, err := r.readByte(ctx)
		if err != nil {
			return nil, err
		}
		if b == space {
			return buf, nil
		}
		buf = append(buf, b)
	}
	return nil, errors.Wrapf(ErrInvalidLength, "more than %d bytes", maxLength)
}

// parseGroup stores the decoded value and notifies the listener if it changed.
func (r *Reader) parseGroup(label string, raw []byte) error {
	v, err := Decode(label, raw)
	if err != nil {
		return &GroupError{Label: label, Err: err}
	}

	r.mu.Lock()
	r.stats.Groups++
	prev, seen := r.values[label]
	changed := !seen || prev != v
	if changed {
		r.values[label] = v
	}
	cb := r.cb
	r.mu.Unlock()

	if !changed {
		return nil
	}
	log.WithField("label", label).WithField("value", v).Debug("group changed")
	if cb != nil {
		registry[label].notify(cb, v)
		if cb.Changed != nil {
			cb.Changed(label, v)
		}
	}
	return nil
}

// readByte polls the source until a byte arrives. Bytes carry 7 bits.
func (r *Reader) readByte(ctx context.Context) (byte, error) {
	if !r.continueRead.Load() {
		return 0, ErrStopped
	}
	start := time.Now()
	for {
		if r.src.Available() > 0 {
			b, err := r.src.ReadByte()
			if err != nil {
				return 0, errors.Wrap(err, "byte source failed")
			}
			return b & 0x7F, nil
		}
		if s, ok := r.src.(interface{ Err() error }); ok {
			if err := s.Err(); err != nil {
				return 0, errors.Wrap(err, "byte source failed")
			}
		}
		if time.Since(start) >= readTimeout {
			return 0, ErrReadTimeout
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(readWait):
		}
	}
}
