package services

import (
	"context"
	"errors"
	"testing"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, kind string, payload any, metadata map[string]string) (string, error) {
	args := m.Called(ctx, kind, payload, metadata)
	return args.String(0), args.Error(1)
}

func (m *mockPublisher) kinds() map[string]string {
	out := map[string]string{}
	for _, call := range m.Calls {
		note := call.Arguments.Get(2).(model.Notification)
		out[call.Arguments.String(1)] = note.Email
	}
	return out
}

func TestQueueNotifier_NotifyOrder(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		status model.OrderStatus
		want   map[string]string
	}{
		{model.OrderCompleted, map[string]string{"order_confirmation": "buyer@example.com"}},
		{model.OrderPartial, map[string]string{"order_confirmation": "buyer@example.com", "refund_claim": "ops@example.com"}},
		{model.OrderFailed, map[string]string{"order_failure": "buyer@example.com", "refund_claim": "ops@example.com"}},
		{model.OrderProcessing, map[string]string{}},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			f := newFixture(t)
			user := f.seedUser(t, "buyer@example.com")
			pub := &mockPublisher{}
			pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(md map[string]string) bool {
				return md["dedup_key"] != ""
			})).Return("1-0", nil)

			n := NewQueueNotifier(pub, f.users, "ops@example.com")
			err := n.NotifyOrder(ctx, &model.Order{ID: 7, OrderCode: "ESM00007", UserID: user.ID, Status: tc.status})
			require.NoError(t, err)
			assert.Equal(t, tc.want, pub.kinds())
		})
	}
}

func TestQueueNotifier_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t, "buyer@example.com")

	t.Run("unknown recipient", func(t *testing.T) {
		n := NewQueueNotifier(&mockPublisher{}, f.users, "ops@example.com")
		err := n.NotifyOrder(ctx, &model.Order{ID: 1, UserID: 999, Status: model.OrderCompleted})
		assert.Error(t, err)
	})

	t.Run("publish failure is reported", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, "order_failure", mock.Anything, mock.Anything).Return("", errors.New("redis down"))
		pub.On("Publish", mock.Anything, "refund_claim", mock.Anything, mock.Anything).Return("2-0", nil)

		n := NewQueueNotifier(pub, f.users, "ops@example.com")
		err := n.NotifyOrder(ctx, &model.Order{ID: 2, OrderCode: "ESM00002", UserID: user.ID, Status: model.OrderFailed})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis down")
		pub.AssertNumberOfCalls(t, "Publish", 2)
	})

	t.Run("missing admin address drops the refund claim", func(t *testing.T) {
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("3-0", nil)

		n := NewQueueNotifier(pub, f.users, "")
		require.NoError(t, n.NotifyOrder(ctx, &model.Order{ID: 3, UserID: user.ID, Status: model.OrderPartial}))
		pub.AssertNumberOfCalls(t, "Publish", 1)
	})
}
