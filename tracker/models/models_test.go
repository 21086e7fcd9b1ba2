// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInfoHashFromHex(t *testing.T) {
	ih, err := InfoHashFromHex("3b245504cf5f11bbdbe1201cea6a6bf45aee1bc0")
	require.NoError(t, err)
	require.Equal(t, "3b245504cf5f11bbdbe1201cea6a6bf45aee1bc0", ih.String())

	_, err = InfoHashFromHex("3b2455")
	require.Error(t, err)

	_, err = InfoHashFromHex("zz245504cf5f11bbdbe1201cea6a6bf45aee1bc0")
	require.Error(t, err)
}

func TestInfoHashFromBytes(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i)
	}
	ih, err := InfoHashFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, raw, ih[:])

	_, err = InfoHashFromBytes(raw[:19])
	require.Error(t, err)
}

func TestCompareInfoHash(t *testing.T) {
	a, _ := InfoHashFromHex("0000000000000000000000000000000000000001")
	b, _ := InfoHashFromHex("0000000000000000000000000000000000000002")
	require.Equal(t, -1, CompareInfoHash(a, b))
	require.Equal(t, 0, CompareInfoHash(a, a))
	require.Equal(t, 1, CompareInfoHash(b, a))
}

func TestParseEvent(t *testing.T) {
	for str, expected := range map[string]Event{
		"":          EventNone,
		"started":   EventStarted,
		"stopped":   EventStopped,
		"completed": EventCompleted,
	} {
		ev, err := ParseEvent(str)
		require.NoError(t, err)
		require.Equal(t, expected, ev)
		require.Equal(t, str, ev.String())
	}

	_, err := ParseEvent("paused")
	require.Error(t, err)
}

func TestSeeding(t *testing.T) {
	p := Peer{Left: 0, Event: EventStarted}
	require.True(t, p.Seeding())

	p = Peer{Left: 1, Event: EventStarted}
	require.False(t, p.Seeding())

	p = Peer{Left: 0, Event: EventStopped}
	require.False(t, p.Seeding())
}

func TestWantedPeers(t *testing.T) {
	ann := &Announce{NumWant: 0}
	require.Equal(t, 50, ann.WantedPeers(50))

	ann.NumWant = 10
	require.Equal(t, 10, ann.WantedPeers(50))

	ann.NumWant = 500
	require.Equal(t, MaxNumWant, ann.WantedPeers(50))
}

func TestAuthKeyValidity(t *testing.T) {
	key := AuthKey{Key: "k", ValidUntil: 1000}
	require.True(t, key.Valid(time.Unix(999, 0)))
	require.True(t, key.Valid(time.Unix(1000, 0)))
	require.False(t, key.Valid(time.Unix(1001, 0)))
}
