// Package oracle is the concrete implementation of internal/shred's
// OffsetOracle collaborator: it answers "where on disk does this file's
// data live" questions the device queue (C4) uses to order reads for
// rotational-disk locality. On Linux it uses the FIEMAP ioctl; on other
// platforms, and on any probe failure, it reports 0 (unknown), which
// the device queue's ordering function already treats as "fall back to
// inode order" per spec.md §4.4.
package oracle

import "sync"

// Oracle implements shred.OffsetOracle.
type Oracle struct {
	mu         sync.Mutex
	rotational map[uint64]bool
}

// New creates an offset oracle. Rotational status is probed once per
// device and cached, since sysfs lookups are not free.
func New() *Oracle {
	return &Oracle{rotational: make(map[uint64]bool)}
}

// IsRotational reports whether deviceID benefits from locality-ordered
// reads. Unknown devices are assumed rotational, the conservative
// default (an unnecessary sort costs little; an omitted one costs
// seeks).
func (o *Oracle) IsRotational(deviceID uint64) bool {
	o.mu.Lock()
	if v, ok := o.rotational[deviceID]; ok {
		o.mu.Unlock()
		return v
	}
	o.mu.Unlock()

	v := probeRotational(deviceID)
	o.mu.Lock()
	o.rotational[deviceID] = v
	o.mu.Unlock()
	return v
}
