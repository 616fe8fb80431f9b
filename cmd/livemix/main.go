package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/LiveMix/internal/api"
	"github.com/AaronLay10/LiveMix/internal/command"
	"github.com/AaronLay10/LiveMix/internal/config"
	"github.com/AaronLay10/LiveMix/internal/events"
	"github.com/AaronLay10/LiveMix/internal/media/sim"
	"github.com/AaronLay10/LiveMix/internal/mqtt"
	"github.com/AaronLay10/LiveMix/internal/orchestrator"
	"github.com/AaronLay10/LiveMix/internal/storage/postgres"
	"github.com/AaronLay10/LiveMix/internal/version"
	"github.com/AaronLay10/LiveMix/internal/window"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run plays the show named by args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: livemix <script>")
		return 1
	}
	scriptPath := args[0]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load show config: %v\n", err)
		return 1
	}

	events.SetOutput(stdout)
	defer events.SetOutput(nil)

	hostname, _ := os.Hostname()
	_, _ = events.Emit(events.LevelInfo, "system.startup", "livemix starting", map[string]interface{}{
		"show":     cfg.ShowID(),
		"script":   scriptPath,
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})

	if cfg.Postgres.Enabled {
		closeStore, err := openEventStore(ctx, cfg.ShowID())
		if err != nil {
			fmt.Fprintf(stderr, "failed to open event store: %v\n", err)
			return 1
		}
		defer closeStore()
		api.SetPostgresState(true, false)
	} else {
		api.SetPostgresState(false, true)
	}

	queue := command.NewQueue(cfg.QueueSize())
	sched, err := orchestrator.LoadShow(scriptPath, sim.NewEngine(), window.NewHeadless(), queue)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	if !cfg.Network.APIDisabled {
		if err := api.InitAuth(); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
	}
	var mqttPassword string
	if cfg.MQTT.Enabled {
		if mqttPassword, err = config.ResolveSecret("MQTT_PASSWORD"); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
	}

	sched.RunPreEvents()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		api.SetSchedulerReady(true)
		defer api.SetSchedulerReady(false)
		return sched.Run(gctx, cfg.TickInterval())
	})

	if !cfg.Network.APIDisabled {
		api.InitMetrics()
		api.SetShowID(cfg.ShowID())
		api.SetStatsSource(sched)
		api.SetCommandSink(queue)
		g.Go(func() error {
			return api.ListenAndServe(gctx, cfg.APIPort())
		})
	}

	if cfg.MQTT.Enabled {
		g.Go(func() error {
			runMQTT(gctx, cfg, mqttPassword, queue)
			return nil
		})
	} else {
		api.SetMQTTState(false, true)
	}

	err = g.Wait()
	code := 0
	msg := "livemix stopped"
	switch {
	case errors.Is(err, orchestrator.ErrTerminated):
		msg = "show terminated"
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		msg = "interrupted"
	case err != nil:
		code = 1
		msg = err.Error()
	}
	_, _ = events.Emit(events.LevelInfo, "system.shutdown", msg, map[string]interface{}{
		"exit_code": code,
	})
	return code
}

// openEventStore connects the event log to Postgres and returns its closer.
func openEventStore(ctx context.Context, showID string) (func(), error) {
	opts := postgres.OptionsFromEnv()
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return nil, err
	}
	opts.Password = password

	client, err := postgres.New(ctx, showID, opts)
	if err != nil {
		return nil, err
	}
	events.SetPostgresClient(client)
	return func() {
		events.SetPostgresClient(nil)
		if err := client.Close(); err != nil {
			log.Printf("failed to close event store: %v", err)
		}
	}, nil
}

// runMQTT feeds broker commands into the queue until ctx is done. A broker
// that is down never stops the show.
func runMQTT(ctx context.Context, cfg *config.ShowConfig, password string, queue *command.Queue) {
	topic := cfg.MQTTTopic()
	var sub *mqtt.CommandSubscriber
	client := mqtt.NewClient(mqtt.Options{
		URL:      cfg.MQTTURL(),
		ClientID: cfg.MQTTClientID(),
		Username: cfg.MQTT.Username,
		Password: password,
		OnConnect: func() {
			api.SetMQTTState(true, true)
			if sub == nil {
				return
			}
			// The first connection may come from the background retry, after
			// Start gave up waiting.
			sub.Resubscribe()
			if err := sub.SubscribeTopic(topic); err != nil {
				log.Printf("mqtt: failed to subscribe to %s: %v", topic, err)
			}
		},
		OnConnectionLost: func(error) {
			api.SetMQTTState(false, true)
		},
	})
	sub = mqtt.NewCommandSubscriber(client, queue)

	if !client.Start(sub, topic) {
		api.SetMQTTState(client.IsConnected(), true)
	}

	<-ctx.Done()
	client.Disconnect()
	api.SetMQTTState(false, true)
}
