package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finvault/lastwish-gateway/internal/repository"
	"github.com/finvault/lastwish-gateway/pkg/pg"
	"github.com/finvault/lastwish-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// a single shared connection keeps every caller on the same
	// in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&repository.SwitchEntity{},
		&repository.DeliveryEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestSwitch(t *testing.T, db *pg.DB, userID string, frequencyDays int, lastCheckIn *time.Time) *repository.SwitchEntity {
	ctx := context.Background()
	sw := &repository.SwitchEntity{
		UserID:        userID,
		IsEnabled:     true,
		FrequencyDays: frequencyDays,
		LastCheckIn:   lastCheckIn,
		Recipients:    `[{"name":"Alice","email":"alice@example.com"}]`,
	}
	err := db.Write(ctx).Create(sw).Error
	require.NoError(t, err)
	return sw
}

func CreateTestDelivery(t *testing.T, db *pg.DB, switchID int64, userID, email, status string) *repository.DeliveryEntity {
	ctx := context.Background()
	sentAt := time.Now()
	d := &repository.DeliveryEntity{
		SwitchID:       switchID,
		UserID:         userID,
		RecipientEmail: email,
		Status:         status,
	}
	if status == "sent" {
		d.SentAt = &sentAt
	}
	err := db.Write(ctx).Create(d).Error
	require.NoError(t, err)
	return d
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
