package http

import (
	"errors"
	"time"

	"github.com/ANIKETSHETTY47/energy-grid-analytics-go/aggregator"
	"github.com/ANIKETSHETTY47/energy-grid-analytics-go/converter"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/registry"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/service"
)

// StatusSource reports live bridge state. Any field may be nil.
type StatusSource struct {
	Loop       func() string
	LastCycle  func() any
	Listener   func() string
	QueueDepth func() int
}

type Deps struct {
	Registry *registry.Registry
	History  service.History
	Status   StatusSource
	Gatherer prometheus.Gatherer
}

const (
	defaultLimit   = 50
	maxLimit       = 500
	defaultHours   = 24
	movingAvgWidth = 3
)

func Register(app *fiber.App, d Deps) {
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Get("/status", func(c *fiber.Ctx) error {
		out := fiber.Map{"meters": 0}
		if d.Registry != nil {
			out["meters"] = d.Registry.Len()
		}
		if d.Status.Loop != nil {
			out["monitor"] = d.Status.Loop()
		}
		if d.Status.LastCycle != nil {
			out["last_cycle"] = d.Status.LastCycle()
		}
		if d.Status.Listener != nil {
			out["push_listener"] = d.Status.Listener()
		}
		if d.Status.QueueDepth != nil {
			out["push_queue"] = d.Status.QueueDepth()
		}
		return c.JSON(out)
	})

	app.Get("/submissions", func(c *fiber.Ctx) error {
		if d.History == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "history not configured"})
		}
		items, err := d.History.RecentSubmissions(c.UserContext(), limit(c))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})

	if d.Registry == nil {
		return
	}

	g := app.Group("/meters")
	g.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(d.Registry.All())
	})
	g.Get("/:id", func(c *fiber.Ctx) error {
		m, err := d.Registry.Get(c.Params("id"))
		if err != nil {
			return notFound(c, err)
		}
		return c.JSON(m)
	})
	g.Get("/:id/submissions", func(c *fiber.Ctx) error {
		m, err := d.Registry.Get(c.Params("id"))
		if err != nil {
			return notFound(c, err)
		}
		if d.History == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "history not configured"})
		}
		since := time.Now().Add(-time.Duration(hours(c)) * time.Hour)
		items, err := d.History.MeterSubmissions(c.UserContext(), m.MeterID, since, limit(c))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(items)
	})
	g.Get("/:id/summary", func(c *fiber.Ctx) error {
		m, err := d.Registry.Get(c.Params("id"))
		if err != nil {
			return notFound(c, err)
		}
		if d.History == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "history not configured"})
		}
		h := hours(c)
		items, err := d.History.MeterSubmissions(c.UserContext(), m.MeterID, time.Now().Add(-time.Duration(h)*time.Hour), maxLimit)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(Summarize(m.MeterID, h, items))
	})
}

type Summary struct {
	MeterID       string    `json:"meter_id"`
	Hours         int       `json:"hours"`
	Accepted      int       `json:"accepted"`
	Rejected      int       `json:"rejected"`
	Failed        int       `json:"failed"`
	TotalKWh      float64   `json:"total_kwh"`
	TotalMWh      float64   `json:"total_mwh"`
	AverageKWh    float64   `json:"average_kwh"`
	MovingAverage []float64 `json:"moving_average,omitempty"`
}

// Summarize totals the accepted readings in oldest-first order.
func Summarize(meterID string, hours int, recs []domain.SubmissionRecord) Summary {
	s := Summary{MeterID: meterID, Hours: hours}
	var points []aggregator.Point
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		switch rec.Status {
		case domain.StatusAccepted:
			s.Accepted++
			points = append(points, aggregator.Point{Value: rec.Value, Timestamp: time.Unix(rec.ObservedAt, 0)})
		case domain.StatusRejected:
			s.Rejected++
		default:
			s.Failed++
		}
	}
	if len(points) == 0 {
		return s
	}

	conv := &converter.EnergyConverter{}
	s.TotalKWh = aggregator.Sum(points)
	s.TotalMWh = conv.KWhToMWh(s.TotalKWh)
	s.AverageKWh = aggregator.Average(points)
	if len(points) >= movingAvgWidth {
		s.MovingAverage = aggregator.MovingAverage(points, movingAvgWidth)
	}
	return s
}

func notFound(c *fiber.Ctx, err error) error {
	if errors.Is(err, domain.ErrMeterNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(500).JSON(fiber.Map{"error": err.Error()})
}

func limit(c *fiber.Ctx) int {
	n := c.QueryInt("limit", defaultLimit)
	if n <= 0 || n > maxLimit {
		return defaultLimit
	}
	return n
}

func hours(c *fiber.Ctx) int {
	h := c.QueryInt("hours", defaultHours)
	if h <= 0 {
		return defaultHours
	}
	return h
}
