//go:build integration

package conversation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/staffdesk/medbook/internal/service"
	"github.com/staffdesk/medbook/internal/testutil/containers"
)

type RedisSessionSuite struct {
	suite.Suite
	rc    *containers.RedisContainer
	store *RedisSessionStore
	ctx   context.Context
}

func TestRedisSessionSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSessionSuite))
}

func (s *RedisSessionSuite) SetupSuite() {
	s.ctx = context.Background()
	s.rc = containers.NewRedisContainer(s.T())
	s.store = NewRedisSessionStore(s.rc.Client, time.Hour)
}

func (s *RedisSessionSuite) SetupTest() {
	s.Require().NoError(s.rc.FlushAll(s.ctx))
}

func (s *RedisSessionSuite) TestRoundTrip() {
	birth := time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)
	phone := "+79991234567"
	in := &Session{
		UserID:    42,
		Flow:      FlowRegistration,
		Step:      StepMedbookExpiry,
		Draft:     Draft{FullName: "Иванов Иван", BirthDate: &birth, Phone: &phone},
		StartedAt: time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.Put(s.ctx, in))

	got, err := s.store.Get(s.ctx, 42)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(in.Flow, got.Flow)
	s.Equal(in.Step, got.Step)
	s.Equal(in.Draft.FullName, got.Draft.FullName)
	s.True(birth.Equal(*got.Draft.BirthDate))
	s.Equal(phone, *got.Draft.Phone)
	s.Nil(got.Draft.MedbookExpiry)

	ttl, err := s.rc.Client.TTL(s.ctx, "medbook:session:42").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)
}

func (s *RedisSessionSuite) TestMissingAndDelete() {
	got, err := s.store.Get(s.ctx, 7)
	s.Require().NoError(err)
	s.Nil(got)

	s.Require().NoError(s.store.Put(s.ctx, &Session{UserID: 7, Flow: FlowStaffSearch, Step: StepQuery}))
	s.Require().NoError(s.store.Delete(s.ctx, 7))
	got, err = s.store.Get(s.ctx, 7)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *RedisSessionSuite) TestMachineOverRedis() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMachine(s.store, service.NewMemoryRecordStore(), admins{}, logger, WithClock(fixedNow), WithLocation(msk))
	_, err := m.StartRegistration(s.ctx, 5)
	s.Require().NoError(err)

	out, handled, err := m.Handle(s.ctx, 5, "согласен")
	s.Require().NoError(err)
	s.True(handled)
	s.Equal(StepFullName, out.Step)

	sess, ok, err := m.Active(s.ctx, 5)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(StepFullName, sess.Step)
}
