package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var outboxColumns = []string{"id", "tenant_id", "aggregate_id", "event_type", "payload", "created_at"}

func TestPublishBatchWritesAndMarks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenant, appt := uuid.New(), uuid.New()
	writer := &fakeWriter{}
	relay := NewRelay(mock, NewRepository(), writer, nil, nil, RelayConfig{BatchSize: 10})

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(int64(1), tenant, appt, "appointment.created", []byte(`{"status":"pending"}`), time.Now()).
			AddRow(int64(2), tenant, appt, "appointment.status_changed", []byte(`{"to":"confirmed"}`), time.Now()))
	mock.ExpectExec("UPDATE outbox_events").WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	n, err := relay.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, writer.msgs, 2)
	assert.Equal(t, "appointment.created", writer.msgs[0].Topic)
	assert.Equal(t, []byte(appt.String()), writer.msgs[1].Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchLeavesRecordsOnWriterFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	writer := &fakeWriter{err: errors.New("broker down")}
	relay := NewRelay(mock, NewRepository(), writer, nil, nil, RelayConfig{BatchSize: 5})

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(5).
		WillReturnRows(pgxmock.NewRows(outboxColumns).
			AddRow(int64(9), uuid.New(), uuid.New(), "appointment.created", []byte(`{}`), time.Now()))
	mock.ExpectRollback()

	_, err = relay.PublishBatch(context.Background())
	assert.EqualError(t, err, "broker down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	relay := NewRelay(mock, NewRepository(), &fakeWriter{}, nil, nil, RelayConfig{})

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(50).WillReturnRows(pgxmock.NewRows(outboxColumns))
	mock.ExpectCommit()

	n, err := relay.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, SplitBrokers(""))
}
