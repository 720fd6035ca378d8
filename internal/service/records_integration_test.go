//go:build integration

package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/infra"
	"github.com/staffdesk/medbook/internal/repository"
	"github.com/staffdesk/medbook/internal/testutil/containers"
)

type RecordStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *RecordStore
	ctx   context.Context
}

func TestRecordStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RecordStoreSuite))
}

func (s *RecordStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewRecordStore(s.pg.Pool,
		repository.NewPgStaffRepository(),
		repository.NewBlacklistRepository(),
		repository.NewOutboxRepository(),
		0,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func (s *RecordStoreSuite) SetupTest() {
	s.pg.CleanAll(s.T())
}

func (s *RecordStoreSuite) outboxCount() int {
	var n int
	s.Require().NoError(s.pg.Pool.QueryRow(s.ctx, `SELECT count(*) FROM event_outbox`).Scan(&n))
	return n
}

func (s *RecordStoreSuite) TestUpsertIsIdempotent() {
	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(1, "Иванов Иван", date(2024, 12, 1))))
	first, err := s.store.GetStaff(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().NotNil(first)

	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(1, "Иванов Иван Петрович", date(2025, 1, 1))))
	all, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(first.ID, all[0].ID)
	s.Equal("Иванов Иван Петрович", all[0].FullName)
	s.Equal(date(2025, 1, 1), all[0].MedbookExpiry.UTC())
	s.Equal(2, s.outboxCount())
}

func (s *RecordStoreSuite) TestUpdateMedbookExpiryUnknownID() {
	err := s.store.UpdateMedbookExpiry(s.ctx, 404, date(2025, 1, 1))
	s.True(domain.HasCode(err, domain.CodeNotFound))
	s.Zero(s.outboxCount())
}

func (s *RecordStoreSuite) TestFindExpiringWindow() {
	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(1, "Сегодня Истекает", date(2024, 6, 1))))
	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(2, "Граница Окна", date(2024, 6, 15))))
	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(3, "За Окном", date(2024, 6, 16))))
	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(4, "Уже Истекла", date(2024, 5, 31))))

	got, err := s.store.FindExpiring(s.ctx, date(2024, 6, 1), 14)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(int64(1), got[0].TelegramID)
	s.Equal(int64(2), got[1].TelegramID)
}

func (s *RecordStoreSuite) TestBlacklistIsAtomicAndInheritsPhone() {
	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(1, "Петров Пётр", date(2024, 12, 1))))

	entry, err := s.store.AddToBlacklist(s.ctx, domain.BlacklistInput{FullName: "Петров Пётр", Reason: "кража", AddedBy: 99})
	s.Require().NoError(err)
	s.Require().NotNil(entry.Phone)
	s.Equal("+79991234567", *entry.Phone)

	exists, err := s.store.Exists(s.ctx, 1)
	s.Require().NoError(err)
	s.False(exists)

	listed, err := s.store.IsBlacklisted(s.ctx, "ПЕТРОВ ПЁТР")
	s.Require().NoError(err)
	s.True(listed)

	st, err := s.store.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(domain.Stats{TotalActive: 0, TotalExpired: 0, TotalBlacklisted: 1}, st)
}

func (s *RecordStoreSuite) TestRemoveFromBlacklistFuzzy() {
	for _, name := range []string{"Иван Петров", "Иванова Мария", "Сидоров Сидор", "100%_Иван"} {
		_, err := s.store.AddToBlacklist(s.ctx, domain.BlacklistInput{FullName: name, Reason: "x", AddedBy: 1})
		s.Require().NoError(err)
	}

	n, err := s.store.RemoveFromBlacklist(s.ctx, "%_")
	s.Require().NoError(err)
	s.Equal(int64(1), n, "wildcards match literally")

	n, err = s.store.RemoveFromBlacklist(s.ctx, "иван")
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	left, err := s.store.GetBlacklist(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(left, 1)
	s.Equal("Сидоров Сидор", left[0].FullName)
}

func (s *RecordStoreSuite) TestRecordEvent() {
	s.Require().NoError(s.store.RecordEvent(s.ctx, domain.NewReminderDispatchedEvent(14, 3, 5, 1)))
	s.Equal(1, s.outboxCount())
}

type recordingPublisher struct {
	events []domain.OutboxDraft
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.OutboxDraft) error {
	p.events = append(p.events, e)
	return nil
}

func (s *RecordStoreSuite) TestOutboxRelayPublishesAndPurges() {
	s.Require().NoError(s.store.UpsertStaff(s.ctx, input(1, "Иванов Иван", date(2024, 12, 1))))
	s.Require().NoError(s.store.UpdateMedbookExpiry(s.ctx, 1, date(2025, 12, 1)))

	pub := &recordingPublisher{}
	relay := infra.NewOutboxPoller(s.pg.Pool, repository.NewOutboxRepository(), pub, time.Second, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := relay.Poll(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Require().Len(pub.events, 2)
	s.Equal(domain.EventStaffRegistered, pub.events[0].EventType)
	s.Equal(domain.EventMedbookUpdated, pub.events[1].EventType)
	s.Equal("1", pub.events[1].PartitionKey)

	n, err = relay.Poll(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(2, s.outboxCount())

	// Published rows older than the retention window are purged.
	_, err = s.pg.Pool.Exec(s.ctx, `UPDATE event_outbox SET published_at = now() - interval '8 days'`)
	s.Require().NoError(err)
	purged, err := relay.WithRetention(7 * 24 * time.Hour).Purge(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), purged)
	s.Zero(s.outboxCount())
}
