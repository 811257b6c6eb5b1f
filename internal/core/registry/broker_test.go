// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/registry/internal/core/registry"
)

/*
TestBroker_NotifyWakesCaughtUpSubscriber verifies that a subscriber whose
cursor has not yet reached the notified revision receives a wake.
*/
func TestBroker_NotifyWakesCaughtUpSubscriber(t *testing.T) {
	broker := registry.NewBroker()
	sub := broker.Subscribe(1)
	defer broker.Unsubscribe(sub)

	broker.Notify(1)

	select {
	case <-sub.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected a wake")
	}
}

/*
TestBroker_NotifySkipsAheadSubscriber verifies that a subscriber whose cursor
is already past the notified revision is left alone.
*/
func TestBroker_NotifySkipsAheadSubscriber(t *testing.T) {
	broker := registry.NewBroker()
	sub := broker.Subscribe(5)
	defer broker.Unsubscribe(sub)

	broker.Notify(4)

	select {
	case <-sub.Wake():
		t.Fatal("did not expect a wake")
	case <-time.After(50 * time.Millisecond):
	}
}

/*
TestBroker_CoalescesWakes verifies that multiple notifications arriving
before the subscriber receives are collapsed into a single pending wake,
never blocking the notifier.
*/
func TestBroker_CoalescesWakes(t *testing.T) {
	broker := registry.NewBroker()
	sub := broker.Subscribe(1)
	defer broker.Unsubscribe(sub)

	broker.Notify(1)
	broker.Notify(2)
	broker.Notify(3)

	select {
	case <-sub.Wake():
	default:
		t.Fatal("expected a pending wake")
	}

	select {
	case <-sub.Wake():
		t.Fatal("expected exactly one coalesced wake")
	default:
	}
}

/*
TestBroker_AdvanceMovesCursor verifies that Advance changes what future
Notify calls consider "caught up".
*/
func TestBroker_AdvanceMovesCursor(t *testing.T) {
	broker := registry.NewBroker()
	sub := broker.Subscribe(1)
	defer broker.Unsubscribe(sub)

	sub.Advance(10)
	broker.Notify(9)

	select {
	case <-sub.Wake():
		t.Fatal("did not expect a wake below the advanced cursor")
	default:
	}

	broker.Notify(10)
	select {
	case <-sub.Wake():
	default:
		t.Fatal("expected a wake at the advanced cursor")
	}
}

/*
TestBroker_UnsubscribeStopsDelivery verifies that a deregistered subscriber
never receives further wakes and that Unsubscribe is safe to call twice.
*/
func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	broker := registry.NewBroker()
	sub := broker.Subscribe(1)
	require.Equal(t, 1, broker.Subscribers())

	broker.Unsubscribe(sub)
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.Subscribers())

	broker.Notify(1)
	select {
	case <-sub.Wake():
		t.Fatal("did not expect a wake after unsubscribe")
	default:
	}
}
