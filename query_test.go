package hound

import (
	"context"
	"testing"

	c "github.com/smartystreets/goconvey/convey"
)

func TestNamespaceNodesAndServices(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	c.Convey("Given two services each with nodes registered under one namespace", t, func() {
		orders := newTestRegistration(t, store, "a")
		c.So(orders.Register(ctx, 10), c.ShouldBeNil)

		billing, err := New(Config{
			Store: store, Namespace: "ns", Service: "billing", Name: "b",
			URI: "grpc://10.0.0.2:9000",
		})
		c.So(err, c.ShouldBeNil)
		c.So(billing.Register(ctx, 10), c.ShouldBeNil)

		ns, err := NewNamespace(store, "ns", nil)
		c.So(err, c.ShouldBeNil)

		c.Convey("Nodes lists only the requested service's nodes", func() {
			nodes, err := ns.Nodes(ctx, "orders")
			c.So(err, c.ShouldBeNil)
			c.So(nodes, c.ShouldHaveLength, 1)
			c.So(nodes[0].Name, c.ShouldEqual, "a")
		})

		c.Convey("Services lists every distinct service name", func() {
			services, err := ns.Services(ctx)
			c.So(err, c.ShouldBeNil)
			c.So(services, c.ShouldResemble, []string{"billing", "orders"})
		})

		c.Convey("ClearNamespace removes every key in the namespace", func() {
			c.So(ns.ClearNamespace(ctx), c.ShouldBeNil)

			services, err := ns.Services(ctx)
			c.So(err, c.ShouldBeNil)
			c.So(services, c.ShouldBeEmpty)
		})
	})
}
