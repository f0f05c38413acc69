package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	hound "github.com/aca-labs/hound-dog"
	"github.com/aca-labs/hound-dog/dlog"
)

var (
	uri  = flag.String("uri", "grpc://127.0.0.1:9000", "address this node can be reached at")
	name = flag.String("name", "node-1", "node name, unique within the service")
)

func main() {
	flag.Parse()

	log := dlog.New(dlog.Options{Level: dlog.InfoLevel, Console: true})
	defer log.Sync()

	settings, err := hound.LoadSettings("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "load settings:", err)
		os.Exit(1)
	}

	adapter := hound.NewStoreClientAdapter(clientv3.Config{
		Endpoints:   []string{"127.0.0.1:2379"},
		DialTimeout: 5 * time.Second,
	}, log)
	defer adapter.Close()

	reg, err := hound.New(hound.Config{
		Store:     adapter,
		Log:       log,
		Namespace: settings.Namespace,
		Service:   "orders",
		Name:      *name,
		URI:       *uri,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "construct registration:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := reg.Register(ctx, settings.DefaultTTL); err != nil {
		fmt.Fprintln(os.Stderr, "register:", err)
		os.Exit(1)
	}

	err = reg.Monitor(ctx, func(ev hound.Event) {
		log.Info(fmt.Sprintf("membership change: %s %s/%s/%s", ev.Type, ev.Namespace, ev.Service, ev.Name))
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "monitor:", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	reg.Unmonitor()
	if err := reg.Unregister(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "unregister:", err)
	}
}
