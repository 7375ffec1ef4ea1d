// voicebridge — webhook server process.
// Receives Twilio callbacks, drives LLM conversation turns, and relays
// canonical events over MQTT to keep dashboards in sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/pkg/api"
	"github.com/voicebridge/voicebridge/pkg/app"
	"github.com/voicebridge/voicebridge/pkg/broker"
	"github.com/voicebridge/voicebridge/pkg/config"
	"github.com/voicebridge/voicebridge/pkg/domain"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/eventbus"
	"github.com/voicebridge/voicebridge/pkg/infrastructure/persistence"
	"github.com/voicebridge/voicebridge/pkg/janitor"
	"github.com/voicebridge/voicebridge/pkg/llm"
	"github.com/voicebridge/voicebridge/pkg/logger"
	"github.com/voicebridge/voicebridge/pkg/queue"
	"github.com/voicebridge/voicebridge/pkg/telephony"
	"github.com/voicebridge/voicebridge/pkg/voice"
	"github.com/voicebridge/voicebridge/pkg/wire"
)

func main() {
	configPath := flag.String("config", "voicebridge.yaml", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "voicebridge:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevelFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Inbound event queue — the single handoff between the broker receive
	// goroutine and the drain tick.
	q := queue.New()

	// Broker link. A random client-id suffix keeps a restarted server from
	// kicking its previous session off the broker.
	link := broker.New(broker.Config{
		URL:      cfg.Broker.URL,
		ClientID: fmt.Sprintf("%s-%s", cfg.Broker.ClientID, uuid.NewString()[:8]),
		Topic:    cfg.Broker.Topic,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
	}, func(ev wire.Event) {
		q.Push(ev)
	})
	if err := link.Connect(); err != nil {
		// No internal retry: the supervisor restarts us with backoff.
		return err
	}
	defer link.Disconnect()

	provider, err := llm.NewProvider(llm.Config{
		Provider: domain.ProviderType(cfg.LLM.Provider),
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return err
	}

	history, err := persistence.NewSqliteHistoryStore(cfg.History.DBPath)
	if err != nil {
		return err
	}

	tel := telephony.NewTwilioClient(telephony.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	})

	container := app.NewContainer(app.ContainerParams{
		EventBus:   eventbus.New(),
		Calls:      persistence.NewMemoryCallRepository(),
		History:    history,
		Queue:      q,
		Publisher:  link,
		LLM:        provider,
		Telephony:  tel,
		LLMTimeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	defer container.Shutdown()

	container.EventBus.Publish(domain.NewEvent(domain.EventSystemStartup, "", nil))

	go container.HistoryService.Run(ctx, time.Duration(cfg.History.DrainIntervalSeconds)*time.Second)

	if janitor.ValidSchedule(cfg.Janitor.Cron) {
		j := janitor.New(container.CallService, cfg.Janitor.Cron,
			time.Duration(cfg.Janitor.RetentionMinutes)*time.Minute)
		go j.Run(ctx)
	} else {
		logger.WarnCF("main", "Janitor disabled: invalid cron expression", map[string]interface{}{
			"schedule": cfg.Janitor.Cron,
		})
	}

	vb := voice.NewBuilder(cfg.Twilio.Voice, cfg.ProcessInputURL())
	server := api.NewServer(cfg, container, vb)
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.InfoCF("main", "voicebridge running", map[string]interface{}{
		"addr":   cfg.Server.Addr(),
		"broker": cfg.Broker.URL,
		"topic":  cfg.Broker.Topic,
	})

	<-ctx.Done()
	logger.InfoC("main", "Shutting down")
	container.EventBus.Publish(domain.NewEvent(domain.EventSystemShutdown, "", nil))
	return server.Stop()
}
