// Package nodes provides the node record types shared by the fetcher, the
// store and the query server, together with the mapping from the remote
// ranking shape to the locally persisted shape.
package nodes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// satsPerBitcoin is the divisor used to express capacity in bitcoin
	satsPerBitcoin = 100_000_000

	// minCalendarUnix is 0000-01-01T00:00:00Z
	minCalendarUnix int64 = -62167219200
	// maxCalendarUnix is 9999-12-31T23:59:59Z
	maxCalendarUnix int64 = 253402300799

	// timestampLayout is RFC 3339 in UTC with second precision
	timestampLayout = "2006-01-02T15:04:05Z"
)

// RemoteNode is a single entry of the connectivity ranking returned by the
// remote API. It is untrusted input and never persisted directly.
type RemoteNode struct {
	PublicKey string  `json:"publicKey"`
	Alias     *string `json:"alias,omitempty"`
	Capacity  uint64  `json:"capacity"`
	FirstSeen int64   `json:"firstSeen"`
}

// UnmarshalJSON decodes a ranking entry and rejects entries that are missing
// a required field.
func (r *RemoteNode) UnmarshalJSON(data []byte) error {
	var aux struct {
		PublicKey *string `json:"publicKey"`
		Alias     *string `json:"alias"`
		Capacity  *uint64 `json:"capacity"`
		FirstSeen *int64  `json:"firstSeen"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var missing []error
	if aux.PublicKey == nil {
		missing = append(missing, errors.New("missing field publicKey"))
	}
	if aux.Capacity == nil {
		missing = append(missing, errors.New("missing field capacity"))
	}
	if aux.FirstSeen == nil {
		missing = append(missing, errors.New("missing field firstSeen"))
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}

	*r = RemoteNode{
		PublicKey: *aux.PublicKey,
		Alias:     aux.Alias,
		Capacity:  *aux.Capacity,
		FirstSeen: *aux.FirstSeen,
	}
	return nil
}

// Node is the normalized record held by the store and served by the API.
type Node struct {
	PublicKey string `json:"public_key"`
	Alias     string `json:"alias"`
	Capacity  string `json:"capacity"`
	FirstSeen string `json:"first_seen"`
}

// FromRemote maps a remote ranking entry onto a Node. It never fails.
func FromRemote(r RemoteNode) Node {
	alias := ""
	if r.Alias != nil {
		alias = *r.Alias
	}

	return Node{
		PublicKey: r.PublicKey,
		Alias:     alias,
		Capacity:  FormatCapacity(r.Capacity),
		FirstSeen: NewFirstSeen(r.FirstSeen).String(),
	}
}

// FormatCapacity renders a satoshi amount as bitcoin with exactly eight
// fraction digits.
func FormatCapacity(sats uint64) string {
	return fmt.Sprintf("%d.%08d", sats/satsPerBitcoin, sats%satsPerBitcoin)
}

// FirstSeen is the interpretation of a raw first-seen value. When InRange is
// true Time holds the calendar instant, otherwise only Raw is meaningful.
type FirstSeen struct {
	Raw     int64
	Time    time.Time
	InRange bool
}

// NewFirstSeen interprets unix seconds as a calendar instant when it falls
// within four-digit years.
func NewFirstSeen(unix int64) FirstSeen {
	if unix < minCalendarUnix || unix > maxCalendarUnix {
		return FirstSeen{Raw: unix}
	}
	return FirstSeen{
		Raw:     unix,
		Time:    time.Unix(unix, 0).UTC(),
		InRange: true,
	}
}

// String returns the RFC 3339 timestamp, or the raw integer when the value is
// outside the calendar range.
func (f FirstSeen) String() string {
	if !f.InRange {
		return strconv.FormatInt(f.Raw, 10)
	}
	return f.Time.Format(timestampLayout)
}
