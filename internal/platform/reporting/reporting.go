package reporting

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinic/internal/domain/billing"
	"github.com/clinicdesk/clinic/internal/platform/apperr"
	"github.com/clinicdesk/clinic/internal/platform/auth"
	"github.com/clinicdesk/clinic/internal/platform/db"
)

// ParamKind says how a query parameter is read and bound.
type ParamKind string

const (
	// ParamFrom is an inclusive start day bound as the instant the day
	// starts in the clinic timezone. Defaults to 30 days before to.
	ParamFrom ParamKind = "from"
	// ParamTo is an inclusive end day bound as the start of the following
	// day. Defaults to today.
	ParamTo ParamKind = "to"
	// ParamDays is a positive day count. Defaults to 30.
	ParamDays ParamKind = "days"

	defaultWindowDays = 30
	maxWindowDays     = 366
)

// MeasureDefinition is an operational report backed by one read-only query.
// Parameters bind to $1..$n in order.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"-"`
	Parameters  []ParamKind `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	GeneratedAt time.Time        `json:"generated_at"`
	Parameters  map[string]any   `json:"parameters,omitempty"`
	Results     []map[string]any `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "dispensed-by-drug",
		Name:        "Dispensed by Drug",
		Description: "Units issued and drug revenue per drug model for prescriptions in the range",
		SQL: `SELECT dm.name AS drug_model,
       SUM(ii.quantity) AS units,
       SUM(ii.quantity * ii.unit_price)::NUMERIC(14, 2)::TEXT AS revenue
FROM issued_item ii
JOIN prescription p ON p.id = ii.prescription_id
JOIN drug_batch b ON b.id = ii.batch_id
JOIN drug_model dm ON dm.id = b.drug_model_id
WHERE p.time >= $1 AND p.time < $2
GROUP BY dm.name
ORDER BY units DESC, dm.name`,
		Parameters: []ParamKind{ParamFrom, ParamTo},
	},
	{
		ID:          "expiring-batches",
		Name:        "Expiring Batches",
		Description: "Available batches with stock left that expire within the given number of days",
		SQL: `SELECT dm.name AS drug_model, br.name AS brand, b.number,
       b.remaining_amount, b.expiry_date
FROM drug_batch b
JOIN drug_model dm ON dm.id = b.drug_model_id
JOIN brand br ON br.id = b.brand_id
WHERE b.status = 'AVAILABLE' AND b.remaining_amount > 0
  AND b.expiry_date > NOW()
  AND b.expiry_date <= NOW() + make_interval(days => $1)
ORDER BY b.expiry_date, dm.name`,
		Parameters: []ParamKind{ParamDays},
	},
	{
		ID:          "queue-throughput",
		Name:        "Queue Throughput",
		Description: "Patients queued and seen per queue started in the range",
		SQL: `SELECT q.id::TEXT AS queue_id, q.started_at, q.completed_at, q.status,
       COUNT(e.id) AS queued,
       COUNT(e.id) FILTER (WHERE e.status <> 'PENDING') AS prescribed,
       COUNT(e.id) FILTER (WHERE e.status = 'COMPLETED') AS completed
FROM queue q
LEFT JOIN queue_entry e ON e.queue_id = q.id
WHERE q.started_at >= $1 AND q.started_at < $2
GROUP BY q.id
ORDER BY q.started_at DESC`,
		Parameters: []ParamKind{ParamFrom, ParamTo},
	},
	{
		ID:          "patient-registrations",
		Name:        "Patient Registrations",
		Description: "Patients registered in the range against the total on record",
		SQL: `SELECT COUNT(*) AS total,
       COUNT(*) FILTER (WHERE created_at >= $1 AND created_at < $2) AS registered
FROM patient`,
		Parameters: []ParamKind{ParamFrom, ParamTo},
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// BindParams turns query values into positional arguments for m. get
// returns the raw query value for a parameter name.
func BindParams(m *MeasureDefinition, get func(string) string, now time.Time, loc *time.Location) ([]any, map[string]any, error) {
	to := billing.StartOfDay(now, loc)
	if raw := get(string(ParamTo)); raw != "" {
		t, err := time.ParseInLocation(billing.DayLayout, raw, loc)
		if err != nil {
			return nil, nil, apperr.Validation("to must be a date in %s format", billing.DayLayout)
		}
		to = t
	}
	from := to.AddDate(0, 0, -defaultWindowDays)
	if raw := get(string(ParamFrom)); raw != "" {
		t, err := time.ParseInLocation(billing.DayLayout, raw, loc)
		if err != nil {
			return nil, nil, apperr.Validation("from must be a date in %s format", billing.DayLayout)
		}
		from = t
	}
	if to.Before(from) {
		return nil, nil, apperr.Validation("from must not be after to")
	}
	days := defaultWindowDays
	if raw := get(string(ParamDays)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxWindowDays {
			return nil, nil, apperr.Validation("days must be between 1 and %d", maxWindowDays)
		}
		days = n
	}

	args := make([]any, 0, len(m.Parameters))
	echoed := make(map[string]any, len(m.Parameters))
	for _, p := range m.Parameters {
		switch p {
		case ParamFrom:
			args = append(args, from)
			echoed[string(p)] = from.Format(billing.DayLayout)
		case ParamTo:
			args = append(args, to.AddDate(0, 0, 1))
			echoed[string(p)] = to.Format(billing.DayLayout)
		case ParamDays:
			args = append(args, days)
			echoed[string(p)] = days
		}
	}
	return args, echoed, nil
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	conn db.Queryable
	loc  *time.Location
	now  func() time.Time
}

func NewHandler(conn db.Queryable, loc *time.Location) *Handler {
	return &Handler{conn: conn, loc: loc, now: time.Now}
}

// RegisterRoutes mounts the reports under a doctor-only group; they expose
// revenue.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.Require(auth.DoctorOnly))
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return apperr.NotFound("measure %q not found", c.Param("id"))
	}

	args, echoed, err := BindParams(measure, c.QueryParam, h.now(), h.loc)
	if err != nil {
		return err
	}

	results, err := h.executeSQL(c.Request().Context(), measure.SQL, args)
	if err != nil {
		return apperr.Internal(err, "evaluate measure %s", measure.ID)
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now().UTC(),
		Parameters:  echoed,
		Results:     results,
	})
}

// executeSQL runs a query and returns each row as a column-name map.
func (h *Handler) executeSQL(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	rows, err := h.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
