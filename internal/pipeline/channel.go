package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"salesetl/internal/schema"
)

// ErrInvalidChannel is returned when the caller declares a channel outside
// STORE/WAREHOUSE/ONLINE.
var ErrInvalidChannel = errors.New("invalid channel")

// autoDetected is recorded in run metadata when no channel was declared.
const autoDetected = "auto-detected"

// ParseExplicitChannel validates a caller-declared channel. Empty means
// "infer".
func ParseExplicitChannel(s string) (schema.Channel, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	ch, ok := schema.ParseChannel(s)
	if !ok {
		return "", fmt.Errorf("%w: %q (want one of STORE, WAREHOUSE, ONLINE)", ErrInvalidChannel, s)
	}
	return ch, nil
}

// FilenameChannel guesses the channel from keywords in a file name, falling
// back to STORE.
func FilenameChannel(filename string) schema.Channel {
	fn := strings.ToLower(filename)
	switch {
	case strings.Contains(fn, "store"):
		return schema.ChannelStore
	case strings.Contains(fn, "warehouse"):
		return schema.ChannelWarehouse
	case strings.Contains(fn, "online"):
		return schema.ChannelOnline
	}
	return schema.ChannelStore
}

// channelPicker assigns the channel of every row of one file: the explicit
// channel, else the row's own channel column, else the channel column of the
// first data row, else the file name.
type channelPicker struct {
	explicit schema.Channel
	filename string
	first    bool
	detected string
}

func newChannelPicker(explicit schema.Channel, filename string) *channelPicker {
	return &channelPicker{explicit: explicit, filename: filename, first: true}
}

// apply sets the channel field of row in place.
func (p *channelPicker) apply(row schema.CanonicalRow) {
	own := strings.ToUpper(row.Get(schema.FieldChannel))
	if p.first {
		p.first = false
		p.detected = own
	}
	switch {
	case p.explicit != "":
		row[schema.FieldChannel] = string(p.explicit)
	case own != "":
		row[schema.FieldChannel] = own
	case p.detected != "":
		row[schema.FieldChannel] = p.detected
	default:
		row[schema.FieldChannel] = string(FilenameChannel(p.filename))
	}
}
