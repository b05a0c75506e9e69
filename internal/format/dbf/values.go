package dbf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// julianEpoch is the Julian day number of 1970-01-01.
const julianEpoch = 2440588

var unixEpoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// decodeValue converts the raw bytes of one field. Blank or unparsable
// values decode to nil.
func decodeValue(d descriptor, raw []byte) any {
	switch d.code {
	case 'C':
		return string(bytes.TrimRight(raw, " \x00"))
	case 'N', 'F':
		s := strings.TrimSpace(string(bytes.Trim(raw, "\x00")))
		if s == "" {
			return nil
		}
		if d.code == 'N' && d.decimals == 0 {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return v
	case 'I':
		if len(raw) < 4 {
			return nil
		}
		return int64(int32(binary.LittleEndian.Uint32(raw)))
	case 'D':
		s := strings.TrimSpace(string(raw))
		if s == "" || strings.Trim(s, "0") == "" {
			return nil
		}
		t, err := time.Parse("20060102", s)
		if err != nil {
			return nil
		}
		return t
	case 'T':
		if len(raw) < 8 {
			return nil
		}
		day := int32(binary.LittleEndian.Uint32(raw[:4]))
		ms := int32(binary.LittleEndian.Uint32(raw[4:8]))
		if day == 0 && ms == 0 {
			return nil
		}
		return unixEpoch.AddDate(0, 0, int(day)-julianEpoch).Add(time.Duration(ms) * time.Millisecond)
	case 'L':
		if len(raw) == 0 {
			return nil
		}
		switch raw[0] {
		case 'T', 't', 'Y', 'y':
			return true
		case 'F', 'f', 'N', 'n':
			return false
		}
		return nil
	default:
		return string(bytes.TrimRight(raw, " \x00"))
	}
}

// encodeValue renders v into dst, which is exactly d.length bytes and
// already holds the blank representation for d.
func encodeValue(d descriptor, v any, dst []byte) error {
	if v == nil {
		return nil
	}
	switch d.code {
	case 'N', 'F':
		s, ok, err := formatNumber(v, d.decimals)
		if err != nil || !ok {
			return err
		}
		if len(s) > d.length {
			return fmt.Errorf("value %s does not fit %d characters", s, d.length)
		}
		copy(dst[d.length-len(s):], s)
	case 'I':
		n, ok, err := toInt(v)
		if err != nil || !ok {
			return err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("value %d overflows a 32-bit integer field", n)
		}
		binary.LittleEndian.PutUint32(dst, uint32(int32(n)))
	case 'D':
		s, err := formatDate(v)
		if err != nil {
			return err
		}
		copy(dst, s)
	case 'T':
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("cannot store %T in a datetime field", v)
		}
		t = t.UTC()
		day := t.Sub(unixEpoch).Hours()/24 + julianEpoch
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		binary.LittleEndian.PutUint32(dst[:4], uint32(int32(math.Floor(day))))
		binary.LittleEndian.PutUint32(dst[4:8], uint32(int32(t.Sub(midnight)/time.Millisecond)))
	case 'L':
		dst[0] = logicalByte(v)
	default:
		s := toString(v)
		copy(dst, s)
	}
	return nil
}

func formatNumber(v any, decimals int) (string, bool, error) {
	switch n := v.(type) {
	case string:
		n = strings.TrimSpace(n)
		if n == "" {
			return "", false, nil
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return "", false, fmt.Errorf("cannot store %q in a numeric field", n)
		}
		return strconv.FormatFloat(f, 'f', decimals, 64), true, nil
	case float32:
		return strconv.FormatFloat(float64(n), 'f', decimals, 64), true, nil
	case float64:
		return strconv.FormatFloat(n, 'f', decimals, 64), true, nil
	}
	i, ok, err := toInt(v)
	if err != nil || !ok {
		return "", ok, err
	}
	if decimals > 0 {
		return strconv.FormatFloat(float64(i), 'f', decimals, 64), true, nil
	}
	return strconv.FormatInt(i, 10), true, nil
}

func toInt(v any) (int64, bool, error) {
	switch n := v.(type) {
	case int:
		return int64(n), true, nil
	case int8:
		return int64(n), true, nil
	case int16:
		return int64(n), true, nil
	case int32:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case uint8:
		return int64(n), true, nil
	case uint16:
		return int64(n), true, nil
	case uint32:
		return int64(n), true, nil
	case float64:
		return int64(math.Round(n)), true, nil
	case float32:
		return int64(math.Round(float64(n))), true, nil
	case bool:
		if n {
			return 1, true, nil
		}
		return 0, true, nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false, nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return 0, false, fmt.Errorf("cannot store %q in an integer field", n)
			}
			return int64(math.Round(f)), true, nil
		}
		return i, true, nil
	}
	return 0, false, fmt.Errorf("cannot store %T in a numeric field", v)
}

func formatDate(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format("20060102"), nil
	case [3]int:
		if t == [3]int{} {
			return "", nil
		}
		return fmt.Sprintf("%04d%02d%02d", t[0], t[1], t[2]), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", nil
		}
		for _, layout := range []string{"20060102", "2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.Format("20060102"), nil
			}
		}
		return "", fmt.Errorf("cannot store %q in a date field", t)
	}
	return "", fmt.Errorf("cannot store %T in a date field", v)
}

func logicalByte(v any) byte {
	switch b := v.(type) {
	case bool:
		if b {
			return 'T'
		}
		return 'F'
	case string:
		if b == "" {
			return ' '
		}
		switch b[0] {
		case 'T', 't', 'Y', 'y', '1':
			return 'T'
		case 'F', 'f', 'N', 'n', '0':
			return 'F'
		case '?':
			return '?'
		}
		return ' '
	case int, int64:
		if b == 0 || b == int64(0) {
			return 'F'
		}
		return 'T'
	}
	return ' '
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
