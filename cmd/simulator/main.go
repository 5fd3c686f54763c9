package main

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/config"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// Fake meters for local runs: serves the pull endpoints of the default meter
// file and publishes push readings for every meter that has an mqtt_topic.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	viper.SetDefault("SIM_ADDR", ":8081")
	viper.SetDefault("SIM_PUBLISH_INTERVAL", "5s")
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/api/:type/reading", func(c *fiber.Ctx) error {
		t := domain.MeterType(c.Params("type"))
		if !t.Valid() {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown meter type"})
		}
		return c.JSON(fiber.Map{
			"value":     simulate(t, time.Now()),
			"unit":      domain.UnitKWh,
			"timestamp": time.Now().Unix(),
		})
	})
	go func() {
		addr := viper.GetString("SIM_ADDR")
		log.Info().Str("addr", addr).Msg("fake meter endpoints listening")
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("server exit")
		}
	}()

	var meters []domain.MeterConfig
	if file, err := config.LoadMeterFile(config.MeterConfigPath()); err != nil {
		log.Warn().Err(err).Msg("no meter config, push simulation disabled")
	} else {
		for _, m := range file.Meters {
			if m.PushTopic != "" {
				meters = append(meters, m)
			}
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if len(meters) == 0 {
		<-sig
		return
	}

	opts := mqtt.NewClientOptions().AddBroker(config.MQTTBroker()).SetClientID("meter-simulator-" + uuid.NewString()[:8])
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect")
	}
	defer client.Disconnect(250)

	ticker := time.NewTicker(viper.GetDuration("SIM_PUBLISH_INTERVAL"))
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			log.Info().Msg("simulation done")
			return
		case now := <-ticker.C:
			for _, m := range meters {
				payload, err := json.Marshal(map[string]any{"value": simulate(m.MeterType, now)})
				if err != nil {
					log.Error().Err(err).Str("meter_id", m.MeterID).Msg("encode reading")
					continue
				}
				token := client.Publish(m.PushTopic, config.MQTTQoS(), false, payload)
				token.Wait()
				if token.Error() != nil {
					log.Error().Err(token.Error()).Str("meter_id", m.MeterID).Msg("publish failed")
				}
			}
		}
	}
}

// simulate returns a plausible kWh value for one interval, rounded to Wh.
func simulate(t domain.MeterType, now time.Time) float64 {
	var v float64
	switch t {
	case domain.MeterSolar:
		h := now.Hour()
		if h >= 6 && h <= 18 {
			v = 1 + rand.Float64()*4
		}
	case domain.MeterWind:
		v = rand.Float64() * 3
	case domain.MeterBattery:
		v = rand.Float64() * 2
	default:
		v = 0.5 + rand.Float64()*2.5
	}
	return float64(int64(v*1000)) / 1000
}
