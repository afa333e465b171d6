package app

import (
	"context"
	"time"

	"github.com/cropscan/cropscan/internal/api"
	"github.com/cropscan/cropscan/internal/buildinfo"
	"github.com/cropscan/cropscan/internal/catalog"
	"github.com/cropscan/cropscan/internal/chat"
	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/events"
	"github.com/cropscan/cropscan/internal/httpclient"
	"github.com/cropscan/cropscan/internal/logger"
	"github.com/cropscan/cropscan/internal/mqtt"
	"github.com/cropscan/cropscan/internal/notification"
	"github.com/cropscan/cropscan/internal/observability"
	"github.com/cropscan/cropscan/internal/observability/metrics"
	"github.com/cropscan/cropscan/internal/places"
	"github.com/cropscan/cropscan/internal/report"
	"github.com/cropscan/cropscan/internal/telemetry"
	"github.com/cropscan/cropscan/internal/tts"
	"github.com/cropscan/cropscan/internal/yield"
)

const eventBusShutdownTimeout = 5 * time.Second

// Serve runs the gateway until ctx is cancelled.
func Serve(ctx context.Context, settings *conf.Settings) error {
	log := GetLogger()

	flush, err := telemetry.InitSentry(&settings.Sentry, settings.Version)
	if err != nil {
		log.Warn("error telemetry disabled", logger.Error(err))
	} else {
		defer flush()
	}

	if settings.Security.AdminToken == conf.DefaultAdminToken {
		log.Warn("admin token is the default value, set security.admintoken or ADMIN_TOKEN")
	}

	m, err := NewMetrics(settings)
	if err != nil {
		return err
	}

	cat, err := catalog.Load(settings.CatalogPath)
	if err != nil {
		return err
	}

	store, err := OpenStore(settings, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("error closing data store", logger.Error(err))
		}
	}()

	model, predictor := NewPredictor(settings, cat, m)
	defer func() { _ = model.Close() }()

	hc := httpclient.New(&httpclient.Config{
		UserAgent: buildinfo.NewContext(settings.Version, settings.BuildDate).UserAgent(),
	})
	if m != nil {
		hc.SetAfterResponseHook(m.Integrations.ObserveResponse)
	}
	defer hc.Close()

	speaker, err := tts.New(ctx, &settings.TTS)
	if err != nil {
		return err
	}

	bus, err := startEventBus(ctx, settings, m)
	if err != nil {
		return err
	}
	if bus != nil {
		defer func() {
			if err := bus.Shutdown(eventBusShutdownTimeout); err != nil {
				log.Warn("event bus shutdown incomplete", logger.Error(err))
			}
		}()
	}

	if settings.Backup.Enabled && settings.Backup.Interval > 0 {
		manager, err := NewBackupManager(settings, store, m)
		if err != nil {
			return err
		}
		stopBackups := startBackupSchedule(ctx, manager, settings.Backup.Interval)
		defer stopBackups()
	}

	if m != nil && settings.Metrics.Listen != "" {
		endpoint, err := observability.NewEndpoint(settings, m)
		if err != nil {
			return err
		}
		if err := endpoint.Start(ctx); err != nil {
			return err
		}
	}

	opts := []api.ServerOption{
		api.WithDataStore(store),
		api.WithPredictor(predictor),
		api.WithModelStatus(model),
		api.WithRenderer(report.NewRenderer(settings.ReportsDir)),
		api.WithPlaces(places.NewClient(&settings.Places, hc)),
		api.WithSpeaker(speaker),
		api.WithChat(newResponder(settings, cat)),
		api.WithYieldEstimator(yield.NewEstimator(cat)),
	}
	if bus != nil {
		opts = append(opts, api.WithScanPublisher(bus))
	}
	if m != nil {
		opts = append(opts, api.WithMetrics(m))
	}

	cfg := api.ConfigFromSettings(settings)
	server, err := api.New(cfg, opts...)
	if err != nil {
		return err
	}

	log.Info("cropscan starting",
		logger.String("version", settings.Version),
		logger.String("address", cfg.Address()),
		logger.String("database", store.Driver()),
		logger.Bool("model_ready", model.Ready()))

	return server.Start(ctx)
}

// newResponder wires the LLM fallback only when a key is configured.
func newResponder(settings *conf.Settings, cat *catalog.Catalog) *chat.Responder {
	if llm := chat.NewOpenAIClient(&settings.Chat); llm != nil {
		return chat.NewResponder(cat.Chat, llm)
	}
	return chat.NewResponder(cat.Chat, nil)
}

// startEventBus registers the enabled scan consumers. It returns nil when
// none are enabled.
func startEventBus(ctx context.Context, settings *conf.Settings, m *observability.Metrics) (*events.EventBus, error) {
	bus := events.NewEventBus(events.DefaultConfig())

	if settings.MQTT.Enabled {
		var mqttMetrics *metrics.MQTTMetrics
		if m != nil {
			mqttMetrics = m.MQTT
		}
		cfg := mqtt.ConfigFromSettings(&settings.MQTT)
		client, err := mqtt.NewClient(cfg, mqttMetrics)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := client.Connect(ctx); err != nil {
				GetLogger().Warn("mqtt connect failed, publisher will retry on demand", logger.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			client.Disconnect()
		}()
		if err := bus.RegisterConsumer(mqtt.NewPublisher(client, cfg.Topic)); err != nil {
			return nil, err
		}
	}

	if settings.Notification.Enabled {
		provider, err := notification.NewShoutrrrProvider("shoutrrr", settings.Notification.URLs, settings.Notification.Timeout)
		if err != nil {
			return nil, err
		}
		var opts []notification.Option
		if m != nil {
			opts = append(opts, notification.WithMetrics(m.Notification))
		}
		notifier := notification.NewNotifier(settings.Notification.MinConfidence, []notification.Provider{provider}, opts...)
		if err := bus.RegisterConsumer(notifier); err != nil {
			return nil, err
		}
	}

	if bus.Consumers() == 0 {
		return nil, nil
	}
	bus.Start()
	return bus, nil
}
