// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package udp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"time"
)

// connectionIDSlot is how long one connection id generation lasts. Ids
// from the current and the previous slot are accepted, so a client has at
// least this long to follow its connect with an announce.
const connectionIDSlot = 2 * time.Minute

// cookieJar derives and validates connection ids without keeping
// per-client state. An id is a keyed one-way function of the client
// endpoint and a coarse time slot, so it cannot be forged for another
// address and expires on its own.
type cookieJar struct {
	secret [32]byte
}

// newCookieJar draws a fresh process-local secret.
func newCookieJar() (*cookieJar, error) {
	var jar cookieJar
	if _, err := rand.Read(jar.secret[:]); err != nil {
		return nil, err
	}
	return &jar, nil
}

func (j *cookieJar) derive(addr *net.UDPAddr, slot int64) int64 {
	mac := hmac.New(sha256.New, j.secret[:])

	var scratch [10]byte
	binary.BigEndian.PutUint64(scratch[:8], uint64(slot))
	binary.BigEndian.PutUint16(scratch[8:], uint16(addr.Port))
	mac.Write(scratch[:])
	mac.Write(addr.IP)

	sum := mac.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// NewConnectionID issues the id for addr in the current time slot.
func (j *cookieJar) NewConnectionID(addr *net.UDPAddr, now time.Time) int64 {
	return j.derive(addr, now.Unix()/int64(connectionIDSlot/time.Second))
}

// Validate accepts ids minted for addr in the current or the most recent
// previous slot.
func (j *cookieJar) Validate(id int64, addr *net.UDPAddr, now time.Time) bool {
	slot := now.Unix() / int64(connectionIDSlot/time.Second)
	return id == j.derive(addr, slot) || id == j.derive(addr, slot-1)
}
