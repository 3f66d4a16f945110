package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"reader/internal/domain"
)

var holder = domain.Identity("0x00000000000000000000000000000000000000000000000000000000000000aa")

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestLedger_FindOwnerCapability(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(qOwnerCapability)).
		WithArgs(holder.String(), "pub-1").
		WillReturnRows(pgxmock.NewRows([]string{"capability_id"}).AddRow("cap-1"))
	cred, ok, err := l.FindOwnerCapability(ctx, holder, "pub-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OwnerCredential{CapabilityID: "cap-1", OwnerID: "pub-1"}, cred)

	mock.ExpectQuery(regexp.QuoteMeta(qOwnerCapability)).
		WithArgs(holder.String(), "pub-2").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err = l.FindOwnerCapability(ctx, holder, "pub-2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_IsContributor(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	mock.ExpectQuery(regexp.QuoteMeta(qIsContributor)).
		WithArgs("pub-1", holder.String()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := l.IsContributor(context.Background(), holder, "pub-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLedger_FindActiveSubscription_UsesClock(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLedger(db).WithClock(func() time.Time { return now })

	mock.ExpectQuery(regexp.QuoteMeta(qSubscription)).
		WithArgs(holder.String(), "pub-1", now).
		WillReturnRows(pgxmock.NewRows([]string{"subscription_id", "service_id"}).AddRow("sub-1", "svc-1"))
	sub, ok, err := l.FindActiveSubscription(context.Background(), holder, "pub-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.SubscriptionCredential{SubscriptionID: "sub-1", ServiceID: "svc-1"}, sub)

	mock.ExpectQuery(regexp.QuoteMeta(qSubscription)).
		WithArgs(holder.String(), "pub-1", now).
		WillReturnError(pgx.ErrNoRows)
	_, ok, err = l.FindActiveSubscription(context.Background(), holder, "pub-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLedger_FindCollectible(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)

	mock.ExpectQuery(regexp.QuoteMeta(qCollectible)).
		WithArgs(holder.String(), "article-1").
		WillReturnRows(pgxmock.NewRows([]string{"token_id"}).AddRow("tok-7"))
	c, ok, err := l.FindCollectible(context.Background(), holder, "article-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.CollectibleCredential{TokenID: "tok-7", ContentID: "article-1"}, c)
}

func TestLedger_DriverErrorsAreUnavailable(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	l := NewLedger(db)
	ctx := context.Background()
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta(qOwnerCapability)).WithArgs(holder.String(), "pub-1").WillReturnError(boom)
	_, _, err := l.FindOwnerCapability(ctx, holder, "pub-1")
	require.ErrorIs(t, err, domain.ErrUnavailable)
	require.ErrorIs(t, err, boom)

	mock.ExpectQuery(regexp.QuoteMeta(qIsContributor)).WithArgs("pub-1", holder.String()).WillReturnError(boom)
	_, err = l.IsContributor(ctx, holder, "pub-1")
	require.ErrorIs(t, err, domain.ErrUnavailable)

	mock.ExpectQuery(regexp.QuoteMeta(qSubscription)).WithArgs(holder.String(), "pub-1", pgxmock.AnyArg()).WillReturnError(boom)
	_, _, err = l.FindActiveSubscription(ctx, holder, "pub-1")
	require.ErrorIs(t, err, domain.ErrUnavailable)

	mock.ExpectQuery(regexp.QuoteMeta(qCollectible)).WithArgs(holder.String(), "c1").WillReturnError(context.Canceled)
	_, _, err = l.FindCollectible(ctx, holder, "c1")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, domain.ErrUnavailable)
}
