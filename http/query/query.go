// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

// Package query implements a faster single-purpose URL query parser.
// The generic net/url machinery cannot be used for announces because the
// info_hash and peer_id parameters carry arbitrary octets: they must be
// split on '&' first and percent-decoded one parameter at a time, without
// '+' folding or UTF-8 expectations.
package query

import (
	"strconv"

	"github.com/majestrate/shoal/tracker/models"
)

// Query represents a parsed URL.Query.
type Query struct {
	Infohashes []string
	Params     map[string]string
}

// New parses a raw query string.
func New(query string) (*Query, error) {
	var (
		keyStart, keyEnd int
		valStart, valEnd int

		onKey = true

		q = &Query{
			Infohashes: nil,
			Params:     make(map[string]string),
		}
	)

	for i, length := 0, len(query); i < length; i++ {
		separator := query[i] == '&' || query[i] == ';'
		last := i == length-1

		if separator || last {
			if onKey && !last {
				keyStart = i + 1
				continue
			}

			if last && !separator && !onKey {
				valEnd = i
			}

			keyStr, err := unescape(query[keyStart : keyEnd+1])
			if err != nil {
				return nil, models.ErrMalformedRequest
			}

			var valStr string
			if valEnd > 0 {
				valStr, err = unescape(query[valStart : valEnd+1])
				if err != nil {
					return nil, models.ErrMalformedRequest
				}
			}

			if _, exists := q.Params[keyStr]; !exists {
				q.Params[keyStr] = valStr
			}

			if keyStr == "info_hash" {
				q.Infohashes = append(q.Infohashes, valStr)
			}

			valEnd = 0
			onKey = true
			keyStart = i + 1

		} else if query[i] == '=' && onKey {
			onKey = false
			valStart = i + 1
			valEnd = 0

		} else if onKey {
			keyEnd = i

		} else {
			valEnd = i
		}
	}

	return q, nil
}

// Uint64 is a helper to obtain a required uint64 from a Query.
func (q *Query) Uint64(key string) (uint64, error) {
	str, exists := q.Params[key]
	if !exists {
		return 0, models.ErrMalformedRequest
	}

	val, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, models.ErrMalformedRequest
	}
	return val, nil
}

// OptionalUint64 is a helper to obtain an optional uint64 from a Query,
// substituting zero when the parameter is absent.
func (q *Query) OptionalUint64(key string) (uint64, error) {
	if _, exists := q.Params[key]; !exists {
		return 0, nil
	}
	return q.Uint64(key)
}

// unescape percent-decodes a parameter. Unlike url.QueryUnescape it leaves
// '+' alone and tolerates any decoded byte value.
func unescape(s string) (string, error) {
	n := 0
	for i := 0; i < len(s); {
		if s[i] == '%' {
			if i+2 >= len(s) || !ishex(s[i+1]) || !ishex(s[i+2]) {
				return "", models.ErrMalformedRequest
			}
			i += 3
		} else {
			i++
		}
		n++
	}

	buf := make([]byte, 0, n)
	for i := 0; i < len(s); {
		if s[i] == '%' {
			buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 3
		} else {
			buf = append(buf, s[i])
			i++
		}
	}
	return string(buf), nil
}

func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
