//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/common/cloudevent"
	"github.com/rescuelink/service-dispatch/internal/common/database"
	"github.com/rescuelink/service-dispatch/internal/common/kafka"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
	"github.com/rescuelink/service-dispatch/internal/domain/ambulance"
	"github.com/rescuelink/service-dispatch/internal/domain/tracking"
	dispatchEvents "github.com/rescuelink/service-dispatch/internal/events"
	"github.com/rescuelink/service-dispatch/internal/fleet"
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/rescuelink/service-dispatch/internal/repository"
	"github.com/rescuelink/service-dispatch/internal/routing"
	"github.com/rescuelink/service-dispatch/internal/testutil"
	"github.com/rescuelink/service-dispatch/internal/worker"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// dispatchStack holds wired-up dispatch service components.
type dispatchStack struct {
	Bookings   *application.BookingService
	Dispatch   *application.DispatchService
	Fleet      *application.FleetService
	Committer  *dispatch.Committer
	Router     *testutil.FakeRouter
	Queue      *worker.DispatchQueue
	Consumer   *dispatchEvents.DispatchCommandConsumer
	Ambulances *repository.GormAmbulanceRepository
	Positions  *repository.GormPositionRepository
	BookingDB  *repository.GormBookingRepository
	Cleanup    func()
}

// setupPostgres starts a PostgreSQL container and applies the SQL migrations.
func setupPostgres(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_dispatch",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Port(),
		User:     "test",
		Password: "test",
		DBName:   "test_dispatch",
		SSLMode:  "disable",
	}
	log := zap.NewNop()

	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(cfg, log)
		return err == nil
	}, 30*time.Second, time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(cfg.DatabaseURL(), "migrations", log))

	return db, func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}
}

// setupContainers starts PostgreSQL and Kafka testcontainers.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	db, cleanupPG := setupPostgres(t)

	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	createTopics(t, kafkaBrokers, dispatchEvents.TopicDispatchEvents, dispatchEvents.TopicDispatchCommands)

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup: func() {
			if err := kafkaContainer.Terminate(ctx); err != nil {
				t.Logf("failed to terminate Kafka container: %v", err)
			}
			cleanupPG()
		},
	}
}

// setupDispatchStack wires the dispatch pipeline against real storage and
// Kafka, with a scripted router.
func setupDispatchStack(t *testing.T, db *gorm.DB, brokers []string) *dispatchStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	bookingRepo := repository.NewGormBookingRepository(db)
	ambulanceRepo := repository.NewGormAmbulanceRepository(db)
	positionRepo := repository.NewGormPositionRepository(db)
	store := repository.NewGormAssignmentStore(db)

	router := testutil.NewFakeRouter()
	locator := fleet.NewLocator(positionRepo, 0)
	selector := dispatch.NewSelector(locator, router, 4, logger)
	committer := dispatch.NewCommitter(store, logger)
	producer := kafka.NewProducer(brokers, logger)

	dispatchSvc := application.NewDispatchService(bookingRepo, ambulanceRepo, selector, committer, producer, nil,
		application.DefaultDispatchOptions(), logger)
	queue := worker.NewDispatchQueue(16, 2, func(ctx context.Context, id uuid.UUID) error {
		_, err := dispatchSvc.DispatchBooking(ctx, id)
		return err
	}, logger)
	dispatchSvc.ObserveQueue(queue.Len)

	groupID := fmt.Sprintf("test-dispatch-%s", uuid.New().String()[:8])

	return &dispatchStack{
		Bookings:   application.NewBookingService(bookingRepo, ambulanceRepo, committer, queue, producer, logger),
		Dispatch:   dispatchSvc,
		Fleet:      application.NewFleetService(ambulanceRepo, positionRepo, locator, committer, producer, logger),
		Committer:  committer,
		Router:     router,
		Queue:      queue,
		Consumer:   dispatchEvents.NewDispatchCommandConsumer(brokers, groupID, queue, logger),
		Ambulances: ambulanceRepo,
		Positions:  positionRepo,
		BookingDB:  bookingRepo,
		Cleanup: func() {
			_ = producer.Close()
		},
	}
}

// seedAvailableAmbulance stores an ambulance, brings it on shift and records
// a position with a scripted route of etaSeconds.
func seedAvailableAmbulance(t *testing.T, repo *repository.GormAmbulanceRepository, positions *repository.GormPositionRepository,
	committer *dispatch.Committer, router *testutil.FakeRouter, number string, pos geo.Coordinates, etaSeconds float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	a, err := ambulance.NewAmbulance(number, nil, "Driver "+number, "+60100000000")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, committer.Apply(ctx, dispatch.Transition{
		Name:          "shift_start",
		AmbulanceID:   a.ID(),
		AmbulanceFrom: ambulance.StatusOffline,
		AmbulanceTo:   ambulance.StatusAvailable,
	}))

	if router != nil {
		p, err := tracking.NewPosition(a.ID(), pos, time.Now().UTC())
		require.NoError(t, err)
		require.NoError(t, positions.Append(ctx, p))
		router.Set(pos, testutil.RouteResult{Estimate: routing.Estimate{DistanceMeters: etaSeconds * 12, DurationSeconds: etaSeconds}})
	}
	return a.ID()
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := cloudevent.New(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// waitForBookingStatus polls the bookings table until the status matches.
func waitForBookingStatus(t *testing.T, db *gorm.DB, bookingID uuid.UUID, expectedStatus string, timeout time.Duration) repository.BookingModel {
	t.Helper()
	var result repository.BookingModel
	require.Eventually(t, func() bool {
		var model repository.BookingModel
		if err := db.Where("id = ?", bookingID).First(&model).Error; err != nil {
			return false
		}
		if model.Status == expectedStatus {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "booking did not transition to %s", expectedStatus)
	return result
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) cloudevent.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := cloudevent.Parse(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	require.NoError(t, controllerConn.CreateTopics(topicConfigs...), "failed to create Kafka topics")

	time.Sleep(1 * time.Second)
}
