package checkin_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"absenbot/internal/checkin"
	"absenbot/internal/checkin/mocks"
	"absenbot/internal/geofence"
	"absenbot/internal/ledger"
	"absenbot/internal/metrics"
)

var office = geofence.Coordinate{Latitude: -8.591758, Longitude: 116.248384}

func north(c geofence.Coordinate, meters float64) *geofence.Coordinate {
	return &geofence.Coordinate{
		Latitude:  c.Latitude + meters/geofence.EarthRadiusMeters*180/math.Pi,
		Longitude: c.Longitude,
	}
}

type failingStore struct {
	*ledger.Memory
	err error
}

func (f *failingStore) Append(context.Context, string, ledger.Record) error {
	return f.err
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	loc      *time.Location
	store    *ledger.Memory
	notifier *mocks.MockNotifier
	service  *checkin.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.loc, err = time.LoadLocation("Asia/Makassar")
	s.Require().NoError(err)

	ctrl := gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(ctrl)
	s.store = ledger.NewMemory()
	s.service = s.newService(s.store, checkin.PerMethod)
}

func (s *ServiceSuite) newService(store ledger.Store, policy checkin.DedupPolicy) *checkin.Service {
	return checkin.New(store, s.notifier,
		geofence.Fence{Center: office, RadiusMeters: 100},
		checkin.WithLocation(s.loc),
		checkin.WithDedupPolicy(policy),
	)
}

func (s *ServiceSuite) at(hour, minute int) time.Time {
	return time.Date(2025, 3, 4, hour, minute, 0, 0, s.loc)
}

func (s *ServiceSuite) day(date string) []ledger.Record {
	recs, err := s.store.QueryDay(s.ctx, date)
	s.Require().NoError(err)
	return recs
}

func (s *ServiceSuite) TestCommandCheckInIsIdempotent() {
	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), "chat-1", gomock.Any()).Return(nil).Times(2)
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	ev := checkin.Event{Identity: "A", DisplayName: "Ani", Method: ledger.MethodCommand, Channel: "chat-1"}

	ev.ReceivedAt = s.at(9, 0)
	first, err := s.service.Submit(s.ctx, ev)
	s.Require().NoError(err)
	s.Equal(checkin.Accepted, first.Kind)
	s.Require().NotNil(first.Record)
	s.Equal("Ani", first.Record.DisplayName)
	s.True(first.Record.Timestamp.Equal(s.at(9, 0)))

	ev.ReceivedAt = s.at(9, 5)
	second, err := s.service.Submit(s.ctx, ev)
	s.Require().NoError(err)
	s.Equal(checkin.AlreadyRecorded, second.Kind)
	s.Nil(second.Record)

	s.Len(s.day("2025-03-04"), 1)
}

func (s *ServiceSuite) TestSameIdentityNextDayIsAccepted() {
	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	ev := checkin.Event{Identity: "A", Method: ledger.MethodCommand, ReceivedAt: s.at(9, 0)}
	out, err := s.service.Submit(s.ctx, ev)
	s.Require().NoError(err)
	s.Equal(checkin.Accepted, out.Kind)

	ev.ReceivedAt = ev.ReceivedAt.AddDate(0, 0, 1)
	out, err = s.service.Submit(s.ctx, ev)
	s.Require().NoError(err)
	s.Equal(checkin.Accepted, out.Kind)
	s.Equal("2025-03-05", out.Date)
}

func (s *ServiceSuite) TestDayKeyUsesReferenceTimezone() {
	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil)

	// 23:30 UTC on the 3rd is 07:30 on the 4th in Makassar.
	out, err := s.service.Submit(s.ctx, checkin.Event{
		Identity:   "A",
		Method:     ledger.MethodCommand,
		ReceivedAt: time.Date(2025, 3, 3, 23, 30, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	s.Equal("2025-03-04", out.Date)
	s.Len(s.day("2025-03-04"), 1)
}

func (s *ServiceSuite) TestGeofence() {
	s.Run("reference point is accepted at zero metres", func() {
		s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil)

		c := office
		out, err := s.service.Submit(s.ctx, checkin.Event{
			Identity: "loc-1", Method: ledger.MethodLocation, Coordinate: &c, ReceivedAt: s.at(8, 0),
		})
		s.Require().NoError(err)
		s.Equal(checkin.Accepted, out.Kind)
		s.Require().NotNil(out.Record.DistanceMeters)
		s.Equal(0, *out.Record.DistanceMeters)
		s.Equal(office, *out.Record.Coordinate)
	})

	s.Run("150 m away is rejected without touching the ledger", func() {
		s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, o checkin.Outcome) error {
				s.Equal(checkin.Rejected, o.Kind)
				return nil
			})
		s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Times(0)

		before := len(s.day("2025-03-04"))
		out, err := s.service.Submit(s.ctx, checkin.Event{
			Identity: "loc-2", Method: ledger.MethodLocation, Coordinate: north(office, 150), ReceivedAt: s.at(8, 1),
		})
		s.Require().NoError(err)
		s.Equal(checkin.Rejected, out.Kind)
		s.Equal(checkin.OutOfRadius, out.Reason)
		s.Equal(150, out.DistanceMeters)
		s.Len(s.day("2025-03-04"), before)
	})

	s.Run("exactly on the radius is accepted", func() {
		s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil)

		out, err := s.service.Submit(s.ctx, checkin.Event{
			Identity: "loc-3", Method: ledger.MethodLocation, Coordinate: north(office, 100), ReceivedAt: s.at(8, 2),
		})
		s.Require().NoError(err)
		s.Equal(checkin.Accepted, out.Kind)
		s.Equal(100, *out.Record.DistanceMeters)
	})

	s.Run("one metre beyond the radius is rejected", func() {
		s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

		out, err := s.service.Submit(s.ctx, checkin.Event{
			Identity: "loc-4", Method: ledger.MethodLocation, Coordinate: north(office, 101), ReceivedAt: s.at(8, 3),
		})
		s.Require().NoError(err)
		s.Equal(checkin.Rejected, out.Kind)
		s.Equal(101, out.DistanceMeters)
	})
}

func (s *ServiceSuite) TestDedupPolicy() {
	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	location := func(minute int) checkin.Event {
		c := office
		return checkin.Event{Identity: "A", Method: ledger.MethodLocation, Coordinate: &c, ReceivedAt: s.at(10, minute)}
	}

	s.Run("per method records every location check-in", func() {
		for i := 0; i < 2; i++ {
			out, err := s.service.Submit(s.ctx, location(i))
			s.Require().NoError(err)
			s.Equal(checkin.Accepted, out.Kind)
		}
		s.Len(s.day("2025-03-04"), 2)
	})

	s.Run("per method still deduplicates a command after a location", func() {
		out, err := s.service.Submit(s.ctx, checkin.Event{Identity: "A", Method: ledger.MethodCommand, ReceivedAt: s.at(10, 5)})
		s.Require().NoError(err)
		s.Equal(checkin.AlreadyRecorded, out.Kind)
	})

	s.Run("per identity global deduplicates locations", func() {
		store := ledger.NewMemory()
		svc := s.newService(store, checkin.PerIdentityGlobal)

		out, err := svc.Submit(s.ctx, location(0))
		s.Require().NoError(err)
		s.Equal(checkin.Accepted, out.Kind)

		out, err = svc.Submit(s.ctx, location(1))
		s.Require().NoError(err)
		s.Equal(checkin.AlreadyRecorded, out.Kind)

		recs, err := store.QueryDay(s.ctx, "2025-03-04")
		s.Require().NoError(err)
		s.Len(recs, 1)
	})

	s.Run("web check-ins with a coordinate are deduplicated under per method", func() {
		store := ledger.NewMemory()
		svc := s.newService(store, checkin.PerMethod)
		for i, want := range []checkin.OutcomeKind{checkin.Accepted, checkin.AlreadyRecorded} {
			c := office
			out, err := svc.Submit(s.ctx, checkin.Event{
				Identity: "web:Budi", Method: ledger.MethodWeb, Coordinate: &c, ReceivedAt: s.at(11, i),
			})
			s.Require().NoError(err)
			s.Equal(want, out.Kind)
		}
	})
}

func (s *ServiceSuite) TestStorageFailure() {
	store := &failingStore{Memory: ledger.NewMemory(), err: errors.New("disk full")}
	svc := s.newService(store, checkin.PerMethod)

	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), "chat-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, o checkin.Outcome) error {
			s.Equal(checkin.Failed, o.Kind)
			return nil
		})
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Times(0)

	out, err := svc.Submit(s.ctx, checkin.Event{Identity: "A", Method: ledger.MethodCommand, Channel: "chat-1", ReceivedAt: s.at(9, 0)})
	s.Require().ErrorIs(err, checkin.ErrStorageWrite)
	s.ErrorContains(err, "disk full")
	s.Equal(checkin.Failed, out.Kind)
	s.Nil(out.Record)
}

func (s *ServiceSuite) TestNotificationFailureDoesNotFailCheckIn() {
	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("socket closed"))
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(errors.New("socket closed"))

	out, err := s.service.Submit(s.ctx, checkin.Event{Identity: "A", Method: ledger.MethodCommand, ReceivedAt: s.at(9, 0)})
	s.Require().NoError(err)
	s.Equal(checkin.Accepted, out.Kind)
	s.Len(s.day("2025-03-04"), 1)
}

func (s *ServiceSuite) TestMalformedInput() {
	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := s.service.Submit(s.ctx, checkin.Event{Identity: "  ", Method: ledger.MethodWeb})
	s.ErrorIs(err, checkin.ErrMalformedInput)

	_, err = s.service.Submit(s.ctx, checkin.Event{
		Identity: "A", Method: ledger.MethodLocation,
		Coordinate: &geofence.Coordinate{Latitude: math.NaN(), Longitude: 116},
	})
	s.ErrorIs(err, checkin.ErrMalformedInput)

	all, err := s.store.QueryAll(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *ServiceSuite) TestDisplayNameDefaultsToIdentity() {
	s.notifier.EXPECT().NotifySubmitter(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, rec ledger.Record) error {
			s.Equal("6281234", rec.DisplayName)
			return nil
		})

	out, err := s.service.Submit(s.ctx, checkin.Event{Identity: "6281234", Method: ledger.MethodCommand, ReceivedAt: s.at(9, 0)})
	s.Require().NoError(err)
	s.Equal("6281234", out.Record.DisplayName)
}

func TestConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	fence := geofence.Fence{Center: office, RadiusMeters: 100}
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	const n = 40

	t.Run("distinct identities all persist", func(t *testing.T) {
		store := ledger.NewFile(t.TempDir() + "/absensi.json")
		svc := checkin.New(store, nil, fence)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out, err := svc.Submit(ctx, checkin.Event{
					Identity: fmt.Sprintf("user-%d", i), Method: ledger.MethodCommand, ReceivedAt: now,
				})
				assert.NoError(t, err)
				assert.Equal(t, checkin.Accepted, out.Kind)
			}(i)
		}
		wg.Wait()

		recs, err := store.QueryDay(ctx, "2025-03-04")
		require.NoError(t, err)
		assert.Len(t, recs, n)
	})

	t.Run("same identity is recorded once", func(t *testing.T) {
		store := ledger.NewMemory()
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		svc := checkin.New(store, nil, fence, checkin.WithMetrics(m))

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Submit(ctx, checkin.Event{Identity: "A", Method: ledger.MethodCommand, ReceivedAt: now})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		recs, err := store.QueryDay(ctx, "2025-03-04")
		require.NoError(t, err)
		assert.Len(t, recs, 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("command", "accepted")))
		assert.Equal(t, float64(n-1), testutil.ToFloat64(m.Submissions.WithLabelValues("command", "already_recorded")))
	})
}

func TestParseDedupPolicy(t *testing.T) {
	p, err := checkin.ParseDedupPolicy("")
	require.NoError(t, err)
	assert.Equal(t, checkin.PerMethod, p)

	p, err = checkin.ParseDedupPolicy("PER_IDENTITY_GLOBAL")
	require.NoError(t, err)
	assert.Equal(t, checkin.PerIdentityGlobal, p)

	_, err = checkin.ParseDedupPolicy("never")
	assert.Error(t, err)
}
