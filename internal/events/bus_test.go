package events

import "testing"

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var gotA, gotB int
	subA := bus.Subscribe(TopicMonths, func(Topic) { gotA++ })
	defer subA.Close()
	subB := bus.Subscribe(TopicMonths, func(Topic) { gotB++ })
	defer subB.Close()

	bus.Publish(TopicMonths)
	bus.Publish(TopicMonths)

	if gotA != 2 || gotB != 2 {
		t.Errorf("deliveries = (%d, %d), want (2, 2)", gotA, gotB)
	}
}

func TestPublishIsTopicScoped(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var months, cards int
	bus.Subscribe(TopicMonths, func(Topic) { months++ })
	bus.Subscribe(TopicCards, func(Topic) { cards++ })

	bus.Publish(TopicMonths)

	if months != 1 || cards != 0 {
		t.Errorf("deliveries = (%d, %d), want (1, 0)", months, cards)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var after int
	bus.Subscribe(TopicExpenses, func(Topic) { panic("subscriber bug") })
	bus.Subscribe(TopicExpenses, func(Topic) { after++ })

	bus.Publish(TopicExpenses) // must not panic the publisher

	if after != 1 {
		t.Errorf("second subscriber deliveries = %d, want 1", after)
	}
}

func TestCloseSubscriptionStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got int
	sub := bus.Subscribe(TopicPurchases, func(Topic) { got++ })

	bus.Publish(TopicPurchases)
	sub.Close()
	sub.Close() // idempotent
	bus.Publish(TopicPurchases)

	if got != 1 {
		t.Errorf("deliveries = %d, want 1", got)
	}
	if n := bus.SubscriberCount(TopicPurchases); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
}

func TestPublishOrderIsFIFOPerTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var order []int
	next := 0
	bus.Subscribe(TopicMonths, func(Topic) {
		order = append(order, next)
	})

	for next = 1; next <= 3; next++ {
		bus.Publish(TopicMonths)
	}

	for i, v := range order {
		if v != i+1 {
			t.Fatalf("order = %v, want [1 2 3]", order)
		}
	}
}

func TestClosedBusIsInert(t *testing.T) {
	bus := NewBus()

	var got int
	bus.Subscribe(TopicMonths, func(Topic) { got++ })
	bus.Close()

	bus.Publish(TopicMonths)
	late := bus.Subscribe(TopicMonths, func(Topic) { got++ })
	bus.Publish(TopicMonths)
	late.Close()

	if got != 0 {
		t.Errorf("deliveries after close = %d, want 0", got)
	}
}
