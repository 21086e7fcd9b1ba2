// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicParams(t *testing.T) {
	q, err := New("port=6881&left=0&event=started")
	require.NoError(t, err)
	require.Equal(t, "6881", q.Params["port"])
	require.Equal(t, "0", q.Params["left"])
	require.Equal(t, "started", q.Params["event"])
}

func TestArbitraryBytes(t *testing.T) {
	// A binary info_hash survives percent-decoding untouched, including
	// bytes that are not valid UTF-8 and a literal '+'.
	q, err := New("info_hash=%3b%24U%04%cf_%11%bb%db%e1%20%1c%ea%6a%6b%f4%5a%ee%1b%c0&peer_id=-TR2940-%2b%00%01abcdefghi")
	require.NoError(t, err)

	ih := q.Params["info_hash"]
	require.Len(t, ih, 20)
	require.Equal(t, byte(0x3b), ih[0])
	require.Equal(t, byte(0xc0), ih[19])

	pid := q.Params["peer_id"]
	require.Len(t, pid, 20)
	require.Equal(t, "-TR2940-", pid[:8])
	require.Equal(t, byte('+'), pid[8])
	require.Equal(t, byte(0), pid[9])
}

func TestRepeatedInfohashes(t *testing.T) {
	q, err := New("info_hash=aaaaaaaaaaaaaaaaaaaa&info_hash=bbbbbbbbbbbbbbbbbbbb&info_hash=cccccccccccccccccccc")
	require.NoError(t, err)
	require.Len(t, q.Infohashes, 3)
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaa", q.Infohashes[0])
	require.Equal(t, "cccccccccccccccccccc", q.Infohashes[2])

	// The params map keeps the first occurrence.
	require.Equal(t, "aaaaaaaaaaaaaaaaaaaa", q.Params["info_hash"])
}

func TestMalformedEscape(t *testing.T) {
	_, err := New("info_hash=%zz")
	require.Error(t, err)

	_, err = New("info_hash=%a")
	require.Error(t, err)
}

func TestUint64(t *testing.T) {
	q, err := New("port=6881&left=abc")
	require.NoError(t, err)

	port, err := q.Uint64("port")
	require.NoError(t, err)
	require.Equal(t, uint64(6881), port)

	_, err = q.Uint64("left")
	require.Error(t, err)

	_, err = q.Uint64("missing")
	require.Error(t, err)

	val, err := q.OptionalUint64("missing")
	require.NoError(t, err)
	require.Equal(t, uint64(0), val)
}

func TestEmptyValue(t *testing.T) {
	q, err := New("event=&port=1")
	require.NoError(t, err)
	require.Equal(t, "", q.Params["event"])
	require.Equal(t, "1", q.Params["port"])
}
