package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKm_SameLocation(t *testing.T) {
	assert.InDelta(t, 0.0, HaversineKm(40.71, -74.01, 40.71, -74.01), 0.0001)
}

func TestHaversineKm_NewYorkToTokyo(t *testing.T) {
	// Roughly 10,850 km great-circle distance.
	km := HaversineKm(40.71, -74.01, 35.68, 139.65)
	assert.InDelta(t, 10850, km, 100)
}

func TestMedianAmount_Empty(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectLRange("user:u1:amounts", 0, -1).SetVal([]string{})

	assert.Equal(t, 0.0, store.MedianAmount(context.Background(), "u1"))
}

func TestMedianAmount_OddCount(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectLRange("user:u1:amounts", 0, -1).SetVal([]string{"30", "10", "20"})

	assert.Equal(t, 20.0, store.MedianAmount(context.Background(), "u1"))
}

func TestMedianAmount_EvenCount_MeanOfCentrals(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectLRange("user:u1:amounts", 0, -1).SetVal([]string{"10", "20", "30", "40"})

	assert.Equal(t, 25.0, store.MedianAmount(context.Background(), "u1"))
}

func TestMedianAmount_GarbageTreatedAsZero(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectLRange("user:u1:amounts", 0, -1).SetVal([]string{"not-a-number", "10"})

	// Sorted: [0, 10] -> mean = 5
	assert.Equal(t, 5.0, store.MedianAmount(context.Background(), "u1"))
}

func TestObserveDevice_FirstSeenNotOverwritten(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	ts1 := time.Unix(1000, 0)
	mock.ExpectHSetNX("user:u1:devices", "d1", ts1.Unix()).SetVal(true)
	mock.ExpectExpire("user:u1:devices", firstSeenTTL).SetVal(true)

	isNew := store.ObserveDevice(context.Background(), "u1", "d1", ts1)
	require.True(t, isNew)

	ts2 := time.Unix(2000, 0)
	mock.ExpectHSetNX("user:u1:devices", "d1", ts2.Unix()).SetVal(false)
	mock.ExpectExpire("user:u1:devices", firstSeenTTL).SetVal(true)

	isNewAgain := store.ObserveDevice(context.Background(), "u1", "d1", ts2)
	assert.False(t, isNewAgain)
}

func TestDeviceFirstSeenWithin(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	now := time.Unix(1_000_000, 0)
	firstSeen := now.Add(-3 * 24 * time.Hour)

	mock.ExpectHGet("user:u1:devices", "d1").SetVal(
		formatAmount(float64(firstSeen.Unix())),
	)

	within := store.DeviceFirstSeenWithin(context.Background(), "u1", "d1", now, 7)
	assert.True(t, within)
}

func TestDeviceIsUnseen_TrueWhenNoFirstSeenEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectHExists("user:u1:devices", "d1").SetVal(false)

	assert.True(t, store.DeviceIsUnseen(context.Background(), "u1", "d1"))
}

func TestDeviceIsUnseen_FalseWhenFirstSeenEntryExists(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectHExists("user:u1:devices", "d1").SetVal(true)

	assert.False(t, store.DeviceIsUnseen(context.Background(), "u1", "d1"))
}

func TestIPIsUnseen_TrueWhenNoFirstSeenEntry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectHExists("user:u1:ips", "1.2.3.4").SetVal(false)

	assert.True(t, store.IPIsUnseen(context.Background(), "u1", "1.2.3.4"))
}

func TestDeviceIsUnseen_DegradesToFalseOnFailure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectHExists("user:u1:devices", "d1").SetErr(assert.AnError)

	assert.False(t, store.DeviceIsUnseen(context.Background(), "u1", "d1"))
}

func TestRecentCount_DegradesToZeroOnFailure(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := New(db)

	mock.ExpectZCount("user:u1:txtimes", "999940", "1000000").SetErr(assert.AnError)

	count := store.RecentCount(context.Background(), "u1", time.Unix(1_000_000, 0), 60)
	assert.Equal(t, int64(0), count)
}
