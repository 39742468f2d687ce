package eventbus

import "testing"

func TestPublishOrderPerSubscriber(t *testing.T) {
	b := New(nil)
	var order []int
	b.Subscribe(TypeTasksAvailable, func(e Event) { order = append(order, 1) })
	b.Subscribe(TypeTasksAvailable, func(e Event) { order = append(order, 2) })
	b.Subscribe(TypeTasksAvailable, func(e Event) { order = append(order, 3) })

	b.Publish(Event{Type: TypeTasksAvailable})

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestWildcardReceivesEveryType(t *testing.T) {
	b := New(nil)
	var seen []string
	b.Subscribe(Wildcard, func(e Event) { seen = append(seen, e.Type) })

	b.Publish(Event{Type: TypeTaskClaimed})
	b.Publish(Event{Type: TypeBudgetWarning})

	if len(seen) != 2 || seen[0] != TypeTaskClaimed || seen[1] != TypeBudgetWarning {
		t.Errorf("wildcard subscriber saw %v", seen)
	}
}

func TestUnsubscribeStopsFutureDelivery(t *testing.T) {
	b := New(nil)
	count := 0
	sub := b.Subscribe(TypeHexStatus, func(e Event) { count++ })

	b.Publish(Event{Type: TypeHexStatus})
	sub.Unsubscribe()
	b.Publish(Event{Type: TypeHexStatus})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestUnsubscribeDuringDispatchIsSafe(t *testing.T) {
	b := New(nil)
	var sub Subscription
	called := 0
	sub = b.Subscribe(TypeHexStatus, func(e Event) {
		called++
		sub.Unsubscribe()
	})

	b.Publish(Event{Type: TypeHexStatus})
	b.Publish(Event{Type: TypeHexStatus})

	if called != 1 {
		t.Errorf("handler called %d times, want 1 (should unsubscribe itself mid-dispatch)", called)
	}
}

func TestPanicInSubscriberIsIsolated(t *testing.T) {
	b := New(nil)
	secondCalled := false
	b.Subscribe(TypeLLMResponse, func(e Event) { panic("boom") })
	b.Subscribe(TypeLLMResponse, func(e Event) { secondCalled = true })

	b.Publish(Event{Type: TypeLLMResponse})

	if !secondCalled {
		t.Error("second subscriber should still run after the first panics")
	}
}

func TestSubscribeDuringDispatchDoesNotAffectCurrentPublish(t *testing.T) {
	b := New(nil)
	var order []int
	b.Subscribe(TypeHexProgress, func(e Event) {
		order = append(order, 1)
		b.Subscribe(TypeHexProgress, func(e Event) { order = append(order, 99) })
	})

	b.Publish(Event{Type: TypeHexProgress})
	if len(order) != 1 {
		t.Fatalf("subscribing mid-dispatch should not affect the in-flight publish: %v", order)
	}

	b.Publish(Event{Type: TypeHexProgress})
	if len(order) != 3 {
		t.Fatalf("next publish should include the newly added subscriber: %v", order)
	}
}
