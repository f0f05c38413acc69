package hound

import (
	"context"
	"testing"
	"time"

	c "github.com/smartystreets/goconvey/convey"
)

func newTestRegistration(t *testing.T, store Store, name string) *Registration {
	t.Helper()
	r, err := New(Config{
		Store:     store,
		Namespace: "ns",
		Service:   "orders",
		Name:      name,
		URI:       "grpc://10.0.0.1:9000",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestRegisterGrantsASingleLease(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given an unregistered binding", t, func() {
		r := newTestRegistration(t, store, "a")

		c.Convey("Register grants exactly one lease at the deterministic key", func() {
			err := r.Register(ctx, 10)
			c.So(err, c.ShouldBeNil)
			c.So(r.Registered(), c.ShouldBeTrue)

			kvs, err := store.Range(ctx, "ns/orders/a")
			c.So(err, c.ShouldBeNil)
			c.So(kvs, c.ShouldHaveLength, 1)
			c.So(kvs[0].Value, c.ShouldEqual, "grpc://10.0.0.1:9000")
			c.So(kvs[0].Lease, c.ShouldNotEqual, 0)

			c.Convey("and Register again is a no-op", func() {
				leaseBefore := kvs[0].Lease
				err := r.Register(ctx, 10)
				c.So(err, c.ShouldBeNil)

				after, _ := store.Range(ctx, "ns/orders/a")
				c.So(after[0].Lease, c.ShouldEqual, leaseBefore)
			})
		})
	})
}

func TestRegisterAdoptsAnExistingLease(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given a node already registered by a prior process", t, func() {
		first := newTestRegistration(t, store, "a")
		c.So(first.Register(ctx, 10), c.ShouldBeNil)
		leaseBefore := store.nextLease

		c.Convey("a fresh binding for the same service/name adopts it instead of granting again", func() {
			second := newTestRegistration(t, store, "a")
			c.So(second.Register(ctx, 10), c.ShouldBeNil)

			c.So(store.nextLease, c.ShouldEqual, leaseBefore)
			c.So(second.Registered(), c.ShouldBeTrue)
		})
	})
}

func TestUnregisterIsIdempotentAndCleansUp(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given a registered binding", t, func() {
		r := newTestRegistration(t, store, "a")
		c.So(r.Register(ctx, 10), c.ShouldBeNil)

		c.Convey("Unregister removes the key and clears Registered", func() {
			c.So(r.Unregister(ctx), c.ShouldBeNil)
			c.So(r.Registered(), c.ShouldBeFalse)

			kvs, _ := store.Range(ctx, "ns/orders/a")
			c.So(kvs, c.ShouldHaveLength, 0)

			c.Convey("and Unregister again is a no-op", func() {
				c.So(r.Unregister(ctx), c.ShouldBeNil)
			})
		})
	})
}

func TestSignalEmitsAdoptedLeaseID(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given a binding about to register", t, func() {
		r := newTestRegistration(t, store, "a")
		sig := r.Signal()

		c.Convey("Register posts the granted lease id on Signal", func() {
			c.So(r.Register(ctx, 10), c.ShouldBeNil)

			select {
			case id := <-sig:
				c.So(id, c.ShouldNotEqual, 0)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for signal")
			}
		})
	})
}

func TestKeepAliveReRegistersAfterLeaseLoss(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given a binding registered with a short ttl", t, func() {
		r := newTestRegistration(t, store, "a")
		c.So(r.Register(ctx, 1), c.ShouldBeNil)
		<-r.Signal() // drain the initial grant

		r.mu.Lock()
		oldLease := r.leaseID
		r.mu.Unlock()

		c.Convey("losing the lease out from under the keep-alive loop triggers re-registration", func() {
			store.expireLease(oldLease)

			select {
			case newLease := <-r.Signal():
				c.So(newLease, c.ShouldNotEqual, oldLease)
			case <-time.After(3 * time.Second):
				t.Fatal("timed out waiting for re-registration signal")
			}

			kvs, _ := store.Range(ctx, "ns/orders/a")
			c.So(kvs, c.ShouldHaveLength, 1)
			c.So(kvs[0].Lease, c.ShouldNotEqual, oldLease)
		})
	})
}
