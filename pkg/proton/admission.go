// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned by AdmissionControl.TryAcquire while another Lease is held.
var ErrBusy = errors.New("another client is already connected")

// AdmissionControl owns the single admission slot. At most one Lease exists at any time.
type AdmissionControl struct {
	mutex  sync.Mutex
	lease  *Lease
	leases uint64
}

// Lease grants its holder the admission slot until Release is called.
type Lease struct {
	id    uint64
	peer  string
	since time.Time
	owner *AdmissionControl
}

// AdmissionStatus is a snapshot of the admission slot.
type AdmissionStatus struct {
	Busy   bool      `json:"busy"`
	Peer   string    `json:"peer,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	Leases uint64    `json:"leases"`
}

func NewAdmissionControl() *AdmissionControl {
	return new(AdmissionControl)
}

// TryAcquire the slot for peer without waiting.
func (ac *AdmissionControl) TryAcquire(peer string) (*Lease, error) {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if ac.lease != nil {
		return nil, ErrBusy
	}

	ac.leases++
	ac.lease = &Lease{
		id:    ac.leases,
		peer:  peer,
		since: time.Now(),
		owner: ac,
	}
	return ac.lease, nil
}

// Release the slot if lease still holds it. Releasing twice or releasing an outdated Lease does nothing.
func (ac *AdmissionControl) Release(lease *Lease) {
	if lease == nil {
		return
	}

	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	if ac.lease != nil && ac.lease.id == lease.id {
		ac.lease = nil
	}
}

// Status of the slot.
func (ac *AdmissionControl) Status() AdmissionStatus {
	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	status := AdmissionStatus{Leases: ac.leases}
	if ac.lease != nil {
		status.Busy = true
		status.Peer = ac.lease.peer
		status.Since = ac.lease.since
	}
	return status
}

// Release this Lease.
func (lease *Lease) Release() {
	lease.owner.Release(lease)
}

// Peer this Lease was granted to.
func (lease *Lease) Peer() string {
	return lease.peer
}
