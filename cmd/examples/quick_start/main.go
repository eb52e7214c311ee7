package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TheAlpha16/poolcmd"
	"github.com/TheAlpha16/poolcmd/internal/catalog"
	"github.com/TheAlpha16/poolcmd/internal/config"
	"github.com/TheAlpha16/poolcmd/internal/localpool"
	"github.com/TheAlpha16/poolcmd/protocol"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	poolName := "pool1"
	if len(os.Args) > 1 {
		poolName = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
		logger.Fatalf("Failed to create catalog dir: %v", err)
	}
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		logger.Fatalf("Failed to open catalog: %v", err)
	}
	defer store.Close()

	client, err := poolcmd.NewValkeyClient(cfg.Valkey.Address)
	if err != nil {
		logger.Fatalf("Failed to connect to valkey: %v", err)
	}
	transport := poolcmd.NewValkeyTransport(client, cfg.Valkey.Channel, poolcmd.WithLogger(logger))

	service := localpool.New(store, transport,
		localpool.WithGenesisDir(cfg.Catalog.GenesisDir),
		localpool.WithLogger(logger),
	)
	defer service.Wait()

	state := protocol.NewState(protocol.Version(cfg.Protocol.Version))
	dispatcher := poolcmd.NewDispatcher(service,
		poolcmd.WithTransport(transport),
		poolcmd.WithProtocolState(state),
		poolcmd.WithLogger(logger),
		poolcmd.WithOnOrphanAck(func(ctx context.Context, ack poolcmd.CloseAck, err error) {
			logger.WithError(err).Warnf("orphan acknowledgement %s", ack.ID)
		}),
	)
	defer dispatcher.Shutdown()

	ctx := context.Background()
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatalf("Failed to start dispatcher: %v", err)
	}
	fmt.Println("Dispatcher started! Listening for close acknowledgements...")

	execute := func(cmd poolcmd.Command) {
		if err := dispatcher.Execute(ctx, cmd); err != nil {
			logger.Fatalf("Failed to execute %s: %v", cmd.Name(), err)
		}
	}

	execute(poolcmd.Create{Pool: poolName, Callback: func(err error) {
		fmt.Printf("Create %s: %v\n", poolName, err)
	}})

	execute(poolcmd.List{Callback: func(listing string, err error) {
		fmt.Printf("Pools: %s (err: %v)\n", listing, err)
	}})

	execute(poolcmd.SetProtocolVersion{Version: int(protocol.V1), Callback: func(err error) {
		fmt.Printf("Protocol version set to %d: %v\n", state.Get(), err)
	}})
	if req, err := protocol.NewRequestBuilder(state).Build("V4SGRU86Z58d6TV7PBUe6f", map[string]any{"type": "105", "dest": "V4SGRU86Z58d6TV7PBUe6f"}); err == nil {
		fmt.Printf("Ledger request: %s\n", req)
	}

	var handle poolcmd.Handle
	opened := false
	execute(poolcmd.Open{Pool: poolName, Callback: func(h poolcmd.Handle, err error) {
		if err != nil {
			fmt.Printf("Open %s failed: %v\n", poolName, err)
			return
		}
		handle, opened = h, true
		fmt.Printf("Opened %s with handle %d\n", poolName, h)
	}})
	if !opened {
		return
	}

	closed := make(chan error, 1)
	execute(poolcmd.Close{Handle: handle, Callback: func(err error) { closed <- err }})
	fmt.Printf("Close requested, %d pending\n", dispatcher.Pending())

	select {
	case err := <-closed:
		fmt.Printf("Close acknowledged: %v\n", err)
	case <-time.After(5 * time.Second):
		fmt.Println("Close acknowledgement not received")
	}

	fmt.Println("Quick start example completed!")
}
