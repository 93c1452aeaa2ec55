package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewNotificationService(store)

	in := NotifyInput{
		RecipientID: 7,
		Type:        models.NotificationPaymentSuccess,
		Title:       "Payment Successful",
		Message:     "paid",
		Metadata:    map[string]interface{}{"paymentId": 1},
		DedupeKey:   "payment_success:1",
	}
	first, err := svc.Notify(ctx, in)
	require.NoError(t, err)
	second, err := svc.Notify(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.outbox, 1, "one email queued per notification")

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(first.Metadata, &meta))
	assert.Equal(t, float64(1), meta["paymentId"])
}

func TestNotifyValidation(t *testing.T) {
	svc := NewNotificationService(newMemStore())
	valid := NotifyInput{RecipientID: 7, Type: models.NotificationPaymentFailed, DedupeKey: "k"}

	noRecipient := valid
	noRecipient.RecipientID = 0
	badType := valid
	badType.Type = "sms_blast"
	noKey := valid
	noKey.DedupeKey = " "

	for name, in := range map[string]NotifyInput{"recipient": noRecipient, "type": badType, "dedupe key": noKey} {
		_, err := svc.Notify(context.Background(), in)
		assert.True(t, errors.Is(err, apperr.ErrValidation), name)
	}

	n, err := svc.Notify(context.Background(), valid)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(n.Metadata))
}

func TestNotificationInbox(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewNotificationService(store)

	for _, key := range []string{"a", "b", "c"} {
		_, err := svc.Notify(ctx, NotifyInput{RecipientID: 7, Type: models.NotificationModuleAvailable, DedupeKey: key})
		require.NoError(t, err)
	}
	other, err := svc.Notify(ctx, NotifyInput{RecipientID: 8, Type: models.NotificationModuleAvailable, DedupeKey: "a"})
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	page, err := svc.List(ctx, 7, models.NotificationQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	_, err = svc.MarkRead(ctx, other.ID, 7)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "cannot read another user's notification")

	read, err := svc.MarkRead(ctx, page[0].ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationStatusRead, read.Status)

	unread, err := svc.List(ctx, 7, models.NotificationQuery{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	marked, err := svc.MarkAllRead(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	_, err = svc.List(ctx, 7, models.NotificationQuery{Offset: -1})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestAssignmentFeedbackDedupeKeyPerReview(t *testing.T) {
	sub := &models.Submission{ID: 4, StudentID: 7, Marks: intPtr(5), TotalMarks: 10}
	first := assignmentFeedbackNotice(sub)
	assert.Equal(t, "assignment_feedback:4:0", first.DedupeKey)
	assert.Contains(t, first.Message, "5 of 10")
}
