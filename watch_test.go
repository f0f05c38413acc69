package hound

import (
	"context"
	"testing"
	"time"

	c "github.com/smartystreets/goconvey/convey"
)

func TestWatchDeliversPutAndDeleteEvents(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given a watch on a service prefix", t, func() {
		events := make(chan Event, 8)
		h, err := Watch(ctx, store, "ns", "orders", func(ev Event) {
			events <- ev
		}, nil)
		c.So(err, c.ShouldBeNil)
		defer h.Stop()

		r := newTestRegistration(t, store, "a")

		c.Convey("registering a node delivers a PUT event with the parsed key", func() {
			c.So(r.Register(ctx, 10), c.ShouldBeNil)

			select {
			case ev := <-events:
				c.So(ev.Type, c.ShouldEqual, EventPut)
				c.So(ev.Namespace, c.ShouldEqual, "ns")
				c.So(ev.Service, c.ShouldEqual, "orders")
				c.So(ev.Name, c.ShouldEqual, "a")
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for put event")
			}

			c.Convey("unregistering delivers a DELETE event", func() {
				c.So(r.Unregister(ctx), c.ShouldBeNil)

				select {
				case ev := <-events:
					c.So(ev.Type, c.ShouldEqual, EventDelete)
					c.So(ev.Name, c.ShouldEqual, "a")
				case <-time.After(time.Second):
					t.Fatal("timed out waiting for delete event")
				}
			})
		})
	})
}

func TestWatchHandlerPanicDoesNotKillTheWatch(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given a watch whose handler panics on the first event", t, func() {
		calls := 0
		done := make(chan struct{}, 1)
		h, err := Watch(ctx, store, "ns", "orders", func(ev Event) {
			calls++
			if calls == 1 {
				panic("boom")
			}
			done <- struct{}{}
		}, nil)
		c.So(err, c.ShouldBeNil)
		defer h.Stop()

		r := newTestRegistration(t, store, "a")
		c.So(r.Register(ctx, 10), c.ShouldBeNil)

		c.Convey("a second event still reaches the handler", func() {
			other := newTestRegistration(t, store, "b")
			c.So(other.Register(ctx, 10), c.ShouldBeNil)

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("handler never recovered from the panic")
			}
		})
	})
}

func TestMonitorReplacesThePreviousWatch(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given a binding with an active monitor", t, func() {
		r := newTestRegistration(t, store, "a")
		first := make(chan Event, 8)
		c.So(r.Monitor(ctx, func(ev Event) { first <- ev }), c.ShouldBeNil)

		c.Convey("calling Monitor again stops the first watch and installs a new one", func() {
			second := make(chan Event, 8)
			c.So(r.Monitor(ctx, func(ev Event) { second <- ev }), c.ShouldBeNil)

			c.So(r.Register(ctx, 10), c.ShouldBeNil)

			select {
			case <-second:
			case <-time.After(time.Second):
				t.Fatal("replacement watch never saw the registration")
			}

			select {
			case <-first:
				t.Fatal("stopped watch should not receive further events")
			case <-time.After(100 * time.Millisecond):
			}
		})
	})
}
