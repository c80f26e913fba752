package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
	"github.com/airnet-dev/airquality-pipeline/internal/store"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *aq.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/monitors/:source/meta", func(c *fiber.Ctx) error {
		m, err := service.Monitor(c.Params("source"))
		if err != nil {
			return monitorError(err)
		}
		return c.JSON(fiber.Map{"meta": m.Meta})
	})

	v1.Get("/monitors/:source/data", func(c *fiber.Ctx) error {
		var req dataQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		m, err := service.MonitorWindow(c.Params("source"), req.From, req.To)
		if err != nil {
			return monitorError(err)
		}

		deployments := make([]string, len(m.Meta))
		for i, rec := range m.Meta {
			deployments[i] = rec.DeviceDeploymentID
		}
		return c.JSON(fiber.Map{
			"deployments": deployments,
			"times":       m.Data.Times,
			"values":      m.Data.Values,
		})
	})

	v1.Get("/sensors/:id/timeseries", func(c *fiber.Ctx) error {
		var req timeseriesQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		correction := aq.CorrectionName("")
		if req.Correction != "" && req.Correction != "none" {
			correction = aq.CorrectionName(req.Correction)
		}

		ts, err := service.SensorTimeseries(c.Context(), c.Params("id"), req.Start, req.End, req.Average, correction)
		if err != nil {
			return timeseriesError(err)
		}
		return c.JSON(ts)
	})
}

func monitorError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no monitor for requested source")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to load monitor")
}

func timeseriesError(err error) error {
	var fetchErr *aq.FetchError
	var emptyErr *aq.EmptyResultError
	var invalidErr *aq.InvalidTimeseriesError
	var missingErr *aq.MissingFieldError

	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "unknown sensor; not present in latest synoptic snapshot")
	case errors.As(err, &emptyErr):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.As(err, &fetchErr):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.As(err, &invalidErr), errors.As(err, &missingErr):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to build timeseries")
	}
}

// dataQuery holds query parameters for the monitor data endpoint. An absent
// window means all retained data.
type dataQuery struct {
	From time.Time
	To   time.Time
}

func (q *dataQuery) bind(c *fiber.Ctx) error {
	q.From = time.Unix(0, 0).UTC()
	q.To = time.Now().UTC().Add(24 * time.Hour)

	if s := c.Query("from"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return err
		}
		q.From = t
	}
	if s := c.Query("to"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return err
		}
		q.To = t
	}
	if q.To.Before(q.From) {
		return errors.New("to must not be before from")
	}
	return nil
}

// timeseriesQuery holds query parameters for the on-demand sensor history
// endpoint.
type timeseriesQuery struct {
	Start      time.Time `validate:"required"`
	End        time.Time `validate:"required,gtfield=Start"`
	Average    int       `validate:"oneof=0 10 30 60 360 1440 10080 44640 53560"`
	Correction string    `validate:"omitempty,oneof=none EPA_FASM"`
}

func (q *timeseriesQuery) bind(c *fiber.Ctx) error {
	startStr := c.Query("start")
	endStr := c.Query("end")
	if startStr == "" || endStr == "" {
		return errors.New("start and end query parameters are required")
	}

	start, err := parseTime(startStr)
	if err != nil {
		return err
	}
	end, err := parseTime(endStr)
	if err != nil {
		return err
	}
	q.Start = start
	q.End = end

	if s := c.Query("average"); s != "" {
		avg, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("invalid average; want minutes as an integer")
		}
		q.Average = avg
	}

	q.Correction = c.Query("correction")
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
