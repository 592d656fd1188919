package app

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/smartplant/internal/auth"
	"github.com/onnwee/smartplant/internal/config"
	"github.com/onnwee/smartplant/internal/identify"
	"github.com/onnwee/smartplant/internal/identify/identifytest"
	"github.com/onnwee/smartplant/internal/sighting"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:   config.StoreMemory,
		S3Bucket:       "smartplant-raw-uploads",
		AWSRegion:      "us-east-1",
		IdentifyURL:    "http://identify.local",
		DynamoTable:    "PlantRecords",
		DynamoKeyTable: "PlantRecordKeys",
	}
}

func testClients() *AWS {
	creds := credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", "")
	return &AWS{
		S3:     s3.New(s3.Options{Region: "us-east-1", Credentials: creds}),
		Dynamo: dynamodb.New(dynamodb.Options{Region: "us-east-1", Credentials: creds}),
	}
}

func TestMetrics_RegisterAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := NewMetrics().Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := NewMetrics().Register(reg); err == nil {
		t.Error("second Register() on the same registry should fail")
	}
}

func TestOpenStores_Memory(t *testing.T) {
	st, err := OpenStores(context.Background(), testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	defer st.Close()

	if _, ok := st.Sightings.(*sighting.InMemoryRepository); !ok {
		t.Errorf("Sightings = %T, want in-memory", st.Sightings)
	}
	if st.DB != nil || st.Dynamo != nil {
		t.Error("memory backend opened external stores")
	}
}

func TestOpenStores_DynamoMemorySidecars(t *testing.T) {
	cfg := testConfig()
	cfg.StoreBackend = config.StoreDynamoDB

	if _, err := OpenStores(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("OpenStores(dynamodb) without clients error = nil")
	}

	st, err := OpenStores(context.Background(), cfg, testClients(), nil)
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}
	if _, ok := st.Sightings.(*sighting.DynamoRepository); !ok {
		t.Errorf("Sightings = %T, want dynamo", st.Sightings)
	}
	if st.Audit == nil || st.Reviews == nil || st.Feedback == nil {
		t.Error("curation and audit stores not set")
	}
}

func TestNewServices_Pipeline(t *testing.T) {
	cfg := testConfig()
	st, err := OpenStores(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("OpenStores() error = %v", err)
	}

	svc, err := NewServices(cfg, st, testClients(), identifytest.NewStub(), nil, nil)
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}

	ticket, err := svc.Tickets.RequestTicket(context.Background(), "u1", "image/jpeg")
	if err != nil {
		t.Fatalf("RequestTicket() error = %v", err)
	}
	out, err := svc.Identify.Submit(context.Background(), auth.Session{UserID: "u1", Role: auth.RoleUser},
		identify.SubmitParams{OwnerID: "u1", ImageKey: ticket.ObjectKey})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.Match == nil {
		t.Error("default catalog did not resolve the stub species")
	}

	page, err := svc.Engine.ListSightings(context.Background(), sighting.RolePublic, sighting.Filter{})
	if err != nil {
		t.Fatalf("ListSightings() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("public total = %d, want 1", page.Total)
	}
}

func TestNewServices_RequiresIdentifyURL(t *testing.T) {
	cfg := testConfig()
	cfg.IdentifyURL = ""
	st, _ := OpenStores(context.Background(), cfg, nil, nil)

	if _, err := NewServices(cfg, st, testClients(), nil, nil, nil); err == nil {
		t.Fatal("NewServices() without identify URL error = nil")
	}
}

func TestNewRedis(t *testing.T) {
	cfg := testConfig()
	if c, err := NewRedis(cfg); err != nil || c != nil {
		t.Errorf("NewRedis(empty) = %v, %v", c, err)
	}
	cfg.RedisURL = "redis://localhost:6379/2"
	c, err := NewRedis(cfg)
	if err != nil || c == nil {
		t.Fatalf("NewRedis() = %v, %v", c, err)
	}
	if c.Options().DB != 2 {
		t.Errorf("DB = %d, want 2", c.Options().DB)
	}
	cfg.RedisURL = "http://nope"
	if _, err := NewRedis(cfg); err == nil {
		t.Error("NewRedis(bad scheme) error = nil")
	}
}
