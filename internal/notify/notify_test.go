package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawnauction/internal/models"
)

func sample() models.Notification {
	return models.Notification{
		UserID:   "u1",
		Title:    "You won",
		Message:  "You won auction auc1 at 60",
		Category: models.CategoryAuctionWon,
		Link:     models.AuctionLink("auc1"),
	}
}

func TestInbox_Notify(t *testing.T) {
	n := sample()
	payload, err := json.Marshal(n)
	require.NoError(t, err)

	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	rdb, redisMock := redismock.NewClientMock()
	defer rdb.Close()

	sqlMock.ExpectExec(`INSERT INTO notifications`).
		WithArgs("u1", n.Title, n.Message, n.Category, n.Link).
		WillReturnResult(sqlmock.NewResult(1, 1))
	redisMock.ExpectPublish("user:u1:inbox", string(payload)).SetVal(1)

	NewInbox(db, rdb).Notify(context.Background(), n)

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestInbox_Notify_SwallowsFailures(t *testing.T) {
	n := sample()
	payload, err := json.Marshal(n)
	require.NoError(t, err)

	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	rdb, redisMock := redismock.NewClientMock()
	defer rdb.Close()

	sqlMock.ExpectExec(`INSERT INTO notifications`).WillReturnError(errors.New("db down"))
	redisMock.ExpectPublish("user:u1:inbox", string(payload)).SetErr(errors.New("redis down"))

	require.NotPanics(t, func() {
		NewInbox(db, rdb).Notify(context.Background(), n)
	})
	assert.NoError(t, sqlMock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestInbox_Notify_NoBackends(t *testing.T) {
	require.NotPanics(t, func() {
		NewInbox(nil, nil).Notify(context.Background(), sample())
	})
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Notify(context.Background(), models.Notification{UserID: "u1", Category: models.CategoryAuctionLost})
	r.Notify(context.Background(), models.Notification{UserID: "u2", Category: models.CategoryAuctionWon})
	r.Notify(context.Background(), models.Notification{UserID: "u3", Category: models.CategoryAuctionLost})

	require.Len(t, r.Sent(), 3)
	require.Equal(t, []string{"u1", "u3"}, r.ByCategory(models.CategoryAuctionLost))
	require.Empty(t, r.ByCategory(models.CategoryOutbid))
}
