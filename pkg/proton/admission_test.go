// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package proton

import (
	"errors"
	"sync"
	"testing"
)

func TestAdmissionExclusive(t *testing.T) {
	ac := NewAdmissionControl()

	lease, err := ac.TryAcquire("peer-a")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ac.TryAcquire("peer-b"); !errors.Is(err, ErrBusy) {
		t.Fatalf("Second lease was not refused: %v", err)
	}

	if status := ac.Status(); !status.Busy || status.Peer != "peer-a" {
		t.Fatalf("Unexpected status %+v", status)
	}

	lease.Release()

	if status := ac.Status(); status.Busy {
		t.Fatalf("Slot still busy after release: %+v", status)
	}

	if _, err := ac.TryAcquire("peer-b"); err != nil {
		t.Fatalf("Slot not available after release: %v", err)
	}
}

func TestAdmissionStaleRelease(t *testing.T) {
	ac := NewAdmissionControl()

	first, _ := ac.TryAcquire("peer-a")
	first.Release()

	second, err := ac.TryAcquire("peer-b")
	if err != nil {
		t.Fatal(err)
	}

	// Releasing the first lease again must not free the second one.
	first.Release()
	ac.Release(nil)

	if status := ac.Status(); !status.Busy || status.Peer != second.Peer() {
		t.Fatalf("Stale release freed the slot: %+v", status)
	}
	if leases := ac.Status().Leases; leases != 2 {
		t.Fatalf("Expected 2 leases granted, got %d", leases)
	}
}

func TestAdmissionConcurrent(t *testing.T) {
	const contenders = 64

	ac := NewAdmissionControl()

	var (
		wg      sync.WaitGroup
		mutex   sync.Mutex
		granted []*Lease
	)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lease, err := ac.TryAcquire("peer"); err == nil {
				mutex.Lock()
				granted = append(granted, lease)
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(granted) != 1 {
		t.Fatalf("Expected exactly one lease, got %d", len(granted))
	}
}
