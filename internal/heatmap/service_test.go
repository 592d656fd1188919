package heatmap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/smartplant/internal/sighting"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestService(t *testing.T, metrics *Metrics, items ...*sighting.Sighting) *Service {
	t.Helper()
	repo := sighting.NewInMemoryRepository()
	for _, s := range items {
		if err := repo.Create(context.Background(), s); err != nil {
			t.Fatalf("Create(%s) error = %v", s.ID, err)
		}
	}
	return NewService(sighting.NewEngine(repo, nil, nil), metrics, nil)
}

func TestService_PointsHidesMaskedFromPublic(t *testing.T) {
	svc := newTestService(t, nil,
		newSighting("a", "Ficus elastica", sighting.RarityCommon, 1.55, 110.36, day),
		newSighting("b", "Shorea macrophylla", sighting.RarityRare, 1.6, 110.4, day.Add(time.Hour)),
	)

	pub, err := svc.Points(context.Background(), sighting.RolePublic, Filter{})
	if err != nil {
		t.Fatalf("Points(public) error = %v", err)
	}
	assertPoints(t, pub, []Point{{Lat: 1.55, Lng: 110.36, Weight: 0.91}})

	op, err := svc.Points(context.Background(), sighting.RoleOperator, Filter{})
	if err != nil {
		t.Fatalf("Points(operator) error = %v", err)
	}
	// Newest first.
	assertPoints(t, op, []Point{
		{Lat: 1.6, Lng: 110.4, Weight: 0.91},
		{Lat: 1.55, Lng: 110.36, Weight: 0.91},
	})
}

func TestService_RenderAppliesFilter(t *testing.T) {
	svc := newTestService(t, nil,
		newSighting("a", "Ficus elastica", sighting.RarityCommon, 1.55, 110.36, day),
		newSighting("b", "Ficus elastica", sighting.RarityCommon, 1.56, 110.37, day.AddDate(0, 0, 2)),
		newSighting("c", "Alstonia scholaris", sighting.RarityCommon, 1.57, 110.38, day),
	)

	end, _ := ParseDate("2025-03-01", true)
	v, err := svc.Render(context.Background(), sighting.RolePublic, FormatGeoJSON, Filter{
		Species: "Ficus elastica",
		End:     end,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	gj, ok := v.(GeoJSONPayload)
	if !ok {
		t.Fatalf("Render() returned %T, want GeoJSONPayload", v)
	}
	if gj.Count != 1 || gj.GeoJSON.Features[0].Properties.ID != "a" {
		t.Errorf("features = %+v, want only a", gj.GeoJSON.Features)
	}
}

func TestService_RenderUnknownFormat(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Render(context.Background(), sighting.RolePublic, FormatPoints, Filter{}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Render(points) error = %v, want ErrUnknownFormat", err)
	}
}

type failingSource struct{}

func (failingSource) Visible(context.Context, sighting.Role, sighting.Filter) ([]*sighting.Sighting, error) {
	return nil, errors.New("scan failed")
}

func TestService_SourceError(t *testing.T) {
	svc := NewService(failingSource{}, nil, nil)
	if _, err := svc.Points(context.Background(), sighting.RolePublic, Filter{}); err == nil {
		t.Fatal("Points() error = nil, want error")
	}
}

func TestService_Metrics(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	svc := newTestService(t, m,
		newSighting("a", "Ficus elastica", sighting.RarityCommon, 1.55, 110.36, day),
		newSighting("zero", "Ficus elastica", sighting.RarityCommon, 0, 0, day),
	)
	if _, err := svc.Points(context.Background(), sighting.RolePublic, Filter{}); err != nil {
		t.Fatalf("Points() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	want := map[string]float64{
		MetricRendersTotal:       1,
		MetricPointsTotal:        1,
		MetricPointsDroppedTotal: 1,
	}
	for _, mf := range families {
		if exp, ok := want[mf.GetName()]; ok {
			if got := sumCounters(mf.GetMetric()); got != exp {
				t.Errorf("%s = %v, want %v", mf.GetName(), got, exp)
			}
			delete(want, mf.GetName())
		}
	}
	if len(want) != 0 {
		t.Errorf("metrics not gathered: %v", want)
	}
}

func sumCounters(ms []*dto.Metric) float64 {
	var total float64
	for _, m := range ms {
		total += m.GetCounter().GetValue()
	}
	return total
}
