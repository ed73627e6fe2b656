package moderation

import (
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMuteDuration applies when a mute keyword carries no duration.
	DefaultMuteDuration = 10 * time.Minute
	// MaxMuteDuration caps keyword supplied durations.
	MaxMuteDuration = time.Hour
)

// Action is the closed set of moderation actions: Warn, Mute, Unmute, Ban, Unban.
type Action interface {
	Name() string
	action()
}

type Warn struct{}

type Mute struct {
	Duration time.Duration
}

type Unmute struct{}

type Ban struct{}

type Unban struct{}

func (Warn) Name() string   { return "warn" }
func (Mute) Name() string   { return "mute" }
func (Unmute) Name() string { return "unmute" }
func (Ban) Name() string    { return "ban" }
func (Unban) Name() string  { return "unban" }

func (Warn) action()   {}
func (Mute) action()   {}
func (Unmute) action() {}
func (Ban) action()    {}
func (Unban) action()  {}

var keywordTable = map[string]func() Action{
	"warn":   func() Action { return Warn{} },
	"варн":   func() Action { return Warn{} },
	"mute":   func() Action { return Mute{Duration: DefaultMuteDuration} },
	"мут":    func() Action { return Mute{Duration: DefaultMuteDuration} },
	"unmute": func() Action { return Unmute{} },
	"размут": func() Action { return Unmute{} },
	"анмут":  func() Action { return Unmute{} },
	"ban":    func() Action { return Ban{} },
	"бан":    func() Action { return Ban{} },
	"unban":  func() Action { return Unban{} },
	"анбан":  func() Action { return Unban{} },
	"разбан": func() Action { return Unban{} },
}

// ParseAction recognizes a moderation keyword. The whole trimmed message must be
// the keyword; a mute keyword may be followed by a single duration token.
func ParseAction(text string) (Action, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 || len(fields) > 2 {
		return nil, false
	}
	build, ok := keywordTable[fields[0]]
	if !ok {
		return nil, false
	}
	action := build()
	if len(fields) == 1 {
		return action, true
	}
	mute, isMute := action.(Mute)
	if !isMute {
		return nil, false
	}
	duration, ok := parseMuteDuration(fields[1])
	if !ok {
		return nil, false
	}
	mute.Duration = duration
	return mute, true
}

// parseMuteDuration accepts Go durations ("30m", "1h") or bare minutes ("45").
func parseMuteDuration(token string) (time.Duration, bool) {
	var duration time.Duration
	if minutes, err := strconv.Atoi(token); err == nil {
		duration = time.Duration(minutes) * time.Minute
	} else {
		parsed, err := time.ParseDuration(token)
		if err != nil {
			return 0, false
		}
		duration = parsed
	}
	if duration <= 0 {
		return 0, false
	}
	if duration > MaxMuteDuration {
		duration = MaxMuteDuration
	}
	return duration, true
}
