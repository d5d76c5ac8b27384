package protocol

import "strconv"

// ParseUint32 parses a token expected to be a non-negative 32-bit
// integer (the `flag` field of set/append). Any non-numeric or
// out-of-range input is a caller-visible CLIENT_ERROR.
func ParseUint32(b []byte) (uint32, error) {
	v, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// ParseInt64 parses a token expected to be a signed 64-bit integer
// (the `ver` field of set/append: a version token, not an expiry).
func ParseInt64(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

// ParseInt32 parses a token expected to be a signed 32-bit integer
// (the value-length field `L` of set/append). Negative lengths are
// rejected by the caller, not here, to produce the exact expected
// CLIENT_ERROR wording.
func ParseInt32(b []byte) (int32, error) {
	v, err := strconv.ParseInt(string(b), 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// ParseUint64 parses a token expected to be a non-negative 64-bit
// integer (incr's delta).
func ParseUint64(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b), 10, 64)
}
