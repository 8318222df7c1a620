package earnings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/internal/tripapi"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu         sync.Mutex
	stats      *tripapi.Stats
	earnings   *tripapi.Earnings
	err        error
	statsCalls int
	periods    []string
}

func (f *fakeAPI) DriverStats(context.Context) (*tripapi.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func (f *fakeAPI) Earnings(_ context.Context, period string) (*tripapi.Earnings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.periods = append(f.periods, period)
	if f.err != nil {
		return nil, f.err
	}
	return f.earnings, nil
}

func (f *fakeAPI) TripHistory(_ context.Context, page, perPage int) (*tripapi.HistoryPage, error) {
	return &tripapi.HistoryPage{Page: page, PerPage: perPage}, nil
}

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

var networkErr = common.NewNetworkError("could not reach server", errors.New("dial tcp"))

func TestStatsFallsBackToCacheOnNetworkError(t *testing.T) {
	api := &fakeAPI{stats: &tripapi.Stats{TotalTrips: 12, Rating: 4.9}}
	svc := NewService(api, storage.NewMemoryStore(), time.Hour)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.TotalTrips)

	api.setErr(networkErr)
	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4.9, stats.Rating)
}

func TestStatsDoesNotHideAuthErrors(t *testing.T) {
	api := &fakeAPI{stats: &tripapi.Stats{TotalTrips: 1}}
	svc := NewService(api, storage.NewMemoryStore(), time.Hour)
	ctx := context.Background()
	_, err := svc.Stats(ctx)
	require.NoError(t, err)

	api.setErr(common.NewUnauthorizedError("token expired"))
	_, err = svc.Stats(ctx)
	assert.True(t, common.IsAuthError(err))
}

func TestStatsWithoutCacheReturnsError(t *testing.T) {
	api := &fakeAPI{err: networkErr}
	svc := NewService(api, storage.NewMemoryStore(), time.Hour)

	_, err := svc.Stats(context.Background())
	assert.ErrorIs(t, err, common.ErrNetwork)
}

func TestEarningsValidatesPeriod(t *testing.T) {
	api := &fakeAPI{earnings: &tripapi.Earnings{Total: 10}}
	svc := NewService(api, storage.NewMemoryStore(), time.Hour)

	_, err := svc.Earnings(context.Background(), "year")
	assert.ErrorIs(t, err, common.ErrValidation)

	earnings, err := svc.Earnings(context.Background(), tripapi.PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, 10.0, earnings.Total)
	assert.Equal(t, []string{tripapi.PeriodMonth}, api.periods)
}

func TestHistoryPassesThrough(t *testing.T) {
	svc := NewService(&fakeAPI{}, nil, 0)
	page, err := svc.History(context.Background(), 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 10, page.PerPage)
}

func TestRefreshAfterTripEnds(t *testing.T) {
	api := &fakeAPI{stats: &tripapi.Stats{}, earnings: &tripapi.Earnings{}}
	svc := NewService(api, storage.NewMemoryStore(), time.Hour)

	svc.OnTripChange(trips.Change{Kind: trips.ChangeActive})
	svc.OnTripChange(trips.Change{Kind: trips.ChangeTripEnded})
	svc.Close()

	assert.Equal(t, 1, api.calls())
	assert.Equal(t, []string{tripapi.PeriodToday}, api.periods)
}

func TestRefreshFailureIsReturned(t *testing.T) {
	api := &fakeAPI{err: networkErr}
	svc := NewService(api, nil, 0)

	assert.Error(t, svc.Refresh(context.Background()))
	assert.Error(t, svc.Refresh(context.Background()))
	api.setErr(nil)
	api.stats = &tripapi.Stats{}
	api.earnings = &tripapi.Earnings{}
	assert.NoError(t, svc.Refresh(context.Background()))
}
