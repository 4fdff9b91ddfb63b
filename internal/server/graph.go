package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ContinuousC/JaegerAnomalyDetection/internal/config"
	"github.com/ContinuousC/JaegerAnomalyDetection/internal/score"
)

// ErrTypeRequired indicates a graph request without the type parameter.
var ErrTypeRequired = errors.New("type parameter is required")

// Default graph range parameters.
const (
	defaultGraphDuration = 5 * time.Minute
	defaultGraphInterval = 24 * time.Hour
)

// graphRange holds the requested time range of a graph page.
type graphRange struct {
	From     time.Time
	To       time.Time
	Duration time.Duration
	Interval time.Duration
}

// parseGraphRange extracts duration/from/to/interval query parameters.
// Times accept RFC 3339 or unix seconds; durations use Go syntax. The
// evaluation time is clamped to now: windows only slide forward, so a
// future evaluation time would age out live state.
func parseGraphRange(query url.Values, now time.Time) (graphRange, error) {
	gr := graphRange{
		To:       now,
		Duration: defaultGraphDuration,
		Interval: defaultGraphInterval,
	}

	if raw := query.Get("duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return gr, fmt.Errorf("invalid duration %q", raw)
		}

		gr.Duration = d
	}

	if raw := query.Get("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return gr, fmt.Errorf("invalid interval %q", raw)
		}

		gr.Interval = d
	}

	if raw := query.Get("to"); raw != "" {
		t, err := parseGraphTime(raw)
		if err != nil {
			return gr, err
		}

		if t.Before(now) {
			gr.To = t
		}
	}

	gr.From = gr.To.Add(-gr.Interval)

	if raw := query.Get("from"); raw != "" {
		t, err := parseGraphTime(raw)
		if err != nil {
			return gr, err
		}

		if t.After(gr.To) {
			return gr, fmt.Errorf("from %q is after to", raw)
		}

		gr.From = t
	}

	return gr, nil
}

func parseGraphTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, nil
	}

	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}

	return time.Unix(secs, 0).UTC(), nil
}

// graphPoint is one plotted key with its derived statistics.
type graphPoint struct {
	label     string
	immediate float64
	ceiling   float64
	scoreVal  float64
	count     float64
}

// handleGraphExample renders an example chart page: per monitored key of
// the requested graph type, the immediate value against the normal
// ceiling, with score and sample count alongside.
func (s *Server) handleGraphExample(rw http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()

	graphType := config.GraphType(query.Get("type"))
	if graphType == "" {
		s.writeError(rw, http.StatusBadRequest, ErrTypeRequired)

		return
	}

	if !graphType.Valid() {
		s.writeError(rw, http.StatusBadRequest, fmt.Errorf("unknown graph type %q", graphType))

		return
	}

	service := query.Get("service")
	operation := query.Get("operation")

	gr, err := parseGraphRange(query, time.Now())
	if err != nil {
		s.writeError(rw, http.StatusBadRequest, err)

		return
	}

	cfg := s.holder.Load()
	params := score.ParamsFor(cfg, graphType)

	if raw := query.Get("q"); raw != "" {
		q, err := strconv.ParseFloat(raw, 64)
		if err != nil || q <= 0 || q >= 1 {
			s.writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid quantile %q", raw))

			return
		}

		params.Quantile = q
	}

	points := s.collectPoints(gr.To, graphType, service, operation, params)
	chart := buildGraphChart(graphType, gr, points)

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := chart.Render(rw); err != nil {
		s.log.Error("chart render failed", "err", err)
	}
}

// collectPoints derives one plotted point per matching key.
func (s *Server) collectPoints(now time.Time, graphType config.GraphType, service, operation string, params score.Params) []graphPoint {
	var points []graphPoint

	for _, key := range s.store.Keys() {
		if key.Type != graphType {
			continue
		}

		if service != "" && key.Service != service {
			continue
		}

		if operation != "" && key.Operation != operation {
			continue
		}

		imm, ref, ok := s.store.Aggregate(now, key)
		if !ok {
			continue
		}

		var result score.Result
		if graphType == config.CallRate {
			result = score.EvaluateRate(imm.State, ref.State, imm.Window, ref.Window, params)
		} else {
			result = score.Evaluate(imm.State, ref.State, params)
		}

		if !result.Defined {
			continue
		}

		points = append(points, graphPoint{
			label:     key.Service + "/" + key.Operation,
			immediate: result.Immediate,
			ceiling:   result.Ceiling,
			scoreVal:  result.Value,
			count:     float64(result.ImmediateCount),
		})
	}

	return points
}

// buildGraphChart renders the points as a line chart: immediate value and
// normal ceiling on the value axis, anomaly score on a second axis.
func buildGraphChart(graphType config.GraphType, gr graphRange, points []graphPoint) *charts.Line {
	labels := make([]string, len(points))
	immediate := make([]opts.LineData, len(points))
	ceiling := make([]opts.LineData, len(points))
	scores := make([]opts.LineData, len(points))
	counts := make([]opts.LineData, len(points))

	for i, p := range points {
		labels[i] = p.label
		immediate[i] = opts.LineData{Value: p.immediate}
		ceiling[i] = opts.LineData{Value: p.ceiling}
		scores[i] = opts.LineData{Value: p.scoreVal, YAxisIndex: 1}
		counts[i] = opts.LineData{Value: p.count, YAxisIndex: 1}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Anomaly overview: %s", graphType),
			Subtitle: fmt.Sprintf("immediate %s window against the normal ceiling, evaluated at %s",
				gr.Duration, gr.To.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{}),
		charts.WithYAxisOpts(opts.YAxis{Name: "value"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "score / count", Type: "value"})

	line.SetXAxis(labels)
	line.AddSeries("immediate", immediate)
	line.AddSeries("ceiling", ceiling,
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.2)}))
	line.AddSeries("score", scores)
	line.AddSeries("count", counts)

	return line
}
