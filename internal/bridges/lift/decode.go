package lift

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// updateField binds one JSON key to its Update field.
type updateField struct {
	key     string
	decode  func(raw json.RawMessage, u *Update) error
	present func(u Update) bool
}

// updateFields lists the known keys in record order. Key matching is exact;
// "Floor" is not "floor".
var updateFields = []updateField{
	intField("floor", func(u *Update) **int { return &u.Floor }),
	intField("target", func(u *Update) **int { return &u.Target }),
	intField("dir", func(u *Update) **int { return &u.Dir }),
	intField("door", func(u *Update) **int { return &u.Door }),
	{
		key: "state",
		decode: func(raw json.RawMessage, u *Update) error {
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			u.State = &v
			return nil
		},
		present: func(u Update) bool { return u.State != nil },
	},
	intField("totalTrips", func(u *Update) **int { return &u.TotalTrips }),
	intField("stopCount", func(u *Update) **int { return &u.StopCount }),
	intField("doorCycles", func(u *Update) **int { return &u.DoorCycles }),
	floatField("avgTripMs", func(u *Update) **float64 { return &u.AvgTripMs }),
	floatField("avgWaitMs", func(u *Update) **float64 { return &u.AvgWaitMs }),
	floatField("travelDistanceFloors", func(u *Update) **float64 { return &u.TravelDistanceFloors }),
	floatField("uptimeMs", func(u *Update) **float64 { return &u.UptimeMs }),
}

func intField(key string, ptr func(*Update) **int) updateField {
	return updateField{
		key: key,
		decode: func(raw json.RawMessage, u *Update) error {
			v, err := decodeInt(raw)
			if err != nil {
				return err
			}
			*ptr(u) = &v
			return nil
		},
		present: func(u Update) bool { return *ptr(&u) != nil },
	}
}

func floatField(key string, ptr func(*Update) **float64) updateField {
	return updateField{
		key: key,
		decode: func(raw json.RawMessage, u *Update) error {
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*ptr(u) = &v
			return nil
		},
		present: func(u Update) bool { return *ptr(&u) != nil },
	}
}

// decodeInt accepts any JSON number with an integral value that fits in an
// int, so 2, 2.0 and 2e0 all decode to 2.
func decodeInt(raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: got %T", errNotNumber, v)
	}

	if i, err := strconv.ParseInt(n.String(), 10, 0); err == nil {
		return int(i), nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", errNotInteger, n)
	}
	if f != math.Trunc(f) || f < math.MinInt || f >= math.MaxInt {
		return 0, fmt.Errorf("%w: %s", errNotInteger, n)
	}
	return int(f), nil
}

// KeyError describes a known key whose value could not be used.
type KeyError struct {
	Key string
	Err error
}

func (e KeyError) Error() string {
	return fmt.Sprintf("key %q: %v", e.Key, e.Err)
}

var (
	jsonNull      = []byte("null")
	errNullValue  = errors.New("null value")
	errNotNumber  = errors.New("not a number")
	errNotInteger = errors.New("not an integer")
)

// IsCandidate reports whether a trimmed line looks like a status object.
// Anything else is chatter from the device and is ignored without comment.
func IsCandidate(line string) bool {
	return strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}")
}

// DecodeUpdate parses a candidate line into an Update.
//
// Unknown keys are ignored. A known key holding null or a value of the wrong
// JSON type is reported in skipped and left out of the Update; the other keys
// still apply. If the line is not a JSON object the error wraps
// ErrMalformedLine.
func DecodeUpdate(line string) (u Update, skipped []KeyError, err error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return Update{}, nil, fmt.Errorf("%w: %w", ErrMalformedLine, err)
	}
	for _, f := range updateFields {
		raw, ok := obj[f.key]
		if !ok {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
			skipped = append(skipped, KeyError{Key: f.key, Err: errNullValue})
			continue
		}
		if err := f.decode(raw, &u); err != nil {
			skipped = append(skipped, KeyError{Key: f.key, Err: err})
		}
	}

	return u, skipped, nil
}
