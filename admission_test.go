package forge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

func TestSubmit_ReservesCostAndDispatches(t *testing.T) {
	f, ds, dispatcher := newTestForge(t, nil)
	ctx := context.Background()
	owner := gofakeit.UUID()
	input := map[string]interface{}{"prompt": "a lighthouse at dusk", "resolution": "1080p"}

	var debitJobID, createdJobID string
	ds.On("TryDebit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
		debitJobID = e.JobID
		return e.OwnerID == owner && e.Type == model.EntryDebit && e.Amount == 6 && e.Reference == model.DebitReference(e.JobID)
	})).Return(int64(4), nil).Once()

	created := processingJob("job_abc", owner, model.FeatureHailuo, 6)
	created.InputPayload = input
	ds.On("CreateJob", mock.Anything, mock.MatchedBy(func(j *model.Job) bool {
		createdJobID = j.JobID
		return j.OwnerID == owner && j.FeatureKind == model.FeatureHailuo && j.CreditsReserved == 6
	})).Return(created, nil).Once()

	view, err := f.Submit(ctx, owner, model.FeatureHailuo, input)
	require.NoError(t, err)
	assert.Equal(t, "job_abc", view.JobID)
	assert.Equal(t, model.StatusProcessing, view.Status)
	assert.Equal(t, "1080p", view.Fields["resolution"])
	assert.Equal(t, debitJobID, createdJobID)
	assert.True(t, strings.HasPrefix(debitJobID, "job_"))

	calls := dispatcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "job_abc", calls[0].JobID)
	assert.Equal(t, "/generate/hailuo", calls[0].Path)
	assert.Equal(t, "https://api.example.com/callbacks", calls[0].CallbackURL)
	assert.Equal(t, "a lighthouse at dusk", calls[0].Body()["prompt"])
	ds.AssertExpectations(t)
}

func TestAdmit_InsufficientCredits(t *testing.T) {
	f, ds, dispatcher := newTestForge(t, nil)

	ds.On("TryDebit", mock.Anything, mock.Anything).
		Return(int64(0), apierror.NewAPIError(apierror.ErrInsufficientCredits, "insufficient credits: 3 required", nil)).Once()

	_, err := f.Submit(context.Background(), "user_1", model.FeatureGenericVideo, map[string]interface{}{"prompt": "waves", "model": "kling"})
	assert.True(t, apierror.Is(err, apierror.ErrInsufficientCredits))
	ds.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything)
	assert.Empty(t, dispatcher.calls())
}

func TestAdmit_ConcurrentJobReturnsReservation(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)

	ds.On("TryDebit", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	ds.On("CreateJob", mock.Anything, mock.Anything).
		Return(nil, apierror.NewAPIError(apierror.ErrConflict, "a job is already processing for this owner and feature", nil)).Once()
	ds.On("Credit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Type == model.EntryRefund && e.Amount == 10 && e.Reference == model.RefundReference(e.JobID)
	})).Return(int64(10), nil).Once()

	_, err := f.Admit(context.Background(), "user_1", model.FeatureVeo3, map[string]interface{}{"prompt": "a fox"})
	assert.True(t, apierror.Is(err, apierror.ErrConcurrentJob))
	ds.AssertExpectations(t)
}

func TestAdmit_RollbackRefundSurvivesCancelledRequest(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })

	ds.On("TryDebit", mock.Anything, mock.Anything).Return(int64(0), nil).Once()
	ds.On("CreateJob", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, apierror.NewAPIError(apierror.ErrConflict, "a job is already processing for this owner and feature", nil)).Once()
	ds.On("Credit", live, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Type == model.EntryRefund && e.Amount == 10
	})).Return(int64(10), nil).Once()

	_, err := f.Admit(ctx, "user_1", model.FeatureVeo3, map[string]interface{}{"prompt": "a fox"})
	assert.True(t, apierror.Is(err, apierror.ErrConcurrentJob))
	ds.AssertExpectations(t)
}

func TestAdmit_InvalidInputDoesNotDebit(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)

	_, err := f.Admit(context.Background(), "user_1", model.FeatureHailuo, map[string]interface{}{"resolution": "4k"})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	_, err = f.Admit(context.Background(), "user_1", model.FeatureBaby, map[string]interface{}{
		"father_image_url": "https://cdn.example.com/f.png",
		"mother_image_url": "https://cdn.example.com/m.png",
		"unexpected":       true,
	})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	ds.AssertNotCalled(t, "TryDebit", mock.Anything, mock.Anything)
}

func TestAdmit_DisabledFeature(t *testing.T) {
	cnf := testConfig()
	cnf.Features = map[string]config.FeatureConfig{"lipsync": {Disabled: true}}
	f, ds, _ := newTestForge(t, cnf)

	_, err := f.Admit(context.Background(), "user_1", model.FeatureLipsync, map[string]interface{}{
		"media_url": "https://cdn.example.com/a.mp4",
		"audio_url": "https://cdn.example.com/a.mp3",
	})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
	ds.AssertNotCalled(t, "TryDebit", mock.Anything, mock.Anything)
}

func TestAdmit_FreeFeatureSkipsDebit(t *testing.T) {
	free := int64(0)
	cnf := testConfig()
	cnf.Features = map[string]config.FeatureConfig{"earth_zoom": {Cost: &free}}
	f, ds, _ := newTestForge(t, cnf)

	ds.On("CreateJob", mock.Anything, mock.Anything).Return(processingJob("job_free", "user_1", model.FeatureEarthZoom, 0), nil).Once()

	job, err := f.Admit(context.Background(), "user_1", model.FeatureEarthZoom, map[string]interface{}{"image_url": "https://cdn.example.com/e.png"})
	require.NoError(t, err)
	assert.Equal(t, "job_free", job.JobID)
	ds.AssertNotCalled(t, "TryDebit", mock.Anything, mock.Anything)
}

func TestDispatch_FailureRefundsWhenFeatureOptsIn(t *testing.T) {
	f, ds, dispatcher := newTestForge(t, nil)
	dispatcher.err = errors.New("connection refused")
	job := processingJob("job_veo", "user_1", model.FeatureVeo3, 10)

	ds.On("UpdateJobTerminal", mock.Anything, "job_veo", mock.MatchedBy(func(u model.TerminalUpdate) bool {
		return u.Status == model.StatusFailed && strings.HasPrefix(u.ErrorDetail, "dispatch failed: ")
	})).Return(terminalJob(job, model.StatusFailed, "", "dispatch failed: connection refused"), nil).Once()
	ds.On("Credit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Reference == "refund:job_veo" && e.Amount == 10
	})).Return(int64(10), nil).Once()

	view, err := f.Dispatch(context.Background(), job)
	assert.True(t, apierror.Is(err, apierror.ErrDispatchFailed))
	require.NotNil(t, view)
	assert.Equal(t, model.StatusFailed, view.Status)
	ds.AssertExpectations(t)
}

func TestDispatch_FailureSurvivesCancelledRequest(t *testing.T) {
	f, ds, dispatcher := newTestForge(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.before = cancel
	dispatcher.err = context.Canceled
	job := processingJob("job_gone", "user_1", model.FeatureVeo3, 10)
	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })

	ds.On("UpdateJobTerminal", live, "job_gone", mock.MatchedBy(func(u model.TerminalUpdate) bool {
		return u.Status == model.StatusFailed
	})).Return(terminalJob(job, model.StatusFailed, "", "dispatch failed: context canceled"), nil).Once()
	ds.On("Credit", live, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Reference == "refund:job_gone" && e.Amount == 10
	})).Return(int64(10), nil).Once()

	view, err := f.Dispatch(ctx, job)
	assert.True(t, apierror.Is(err, apierror.ErrDispatchFailed))
	require.NotNil(t, view)
	assert.Equal(t, model.StatusFailed, view.Status)
	ds.AssertExpectations(t)
}

func TestDispatch_FailureKeepsReservationByDefault(t *testing.T) {
	f, ds, dispatcher := newTestForge(t, nil)
	dispatcher.err = errors.New("worker responded with status 503")
	job := processingJob("job_hailuo", "user_1", model.FeatureHailuo, 6)

	ds.On("UpdateJobTerminal", mock.Anything, "job_hailuo", mock.Anything).
		Return(terminalJob(job, model.StatusFailed, "", "dispatch failed"), nil).Once()

	_, err := f.Dispatch(context.Background(), job)
	assert.True(t, apierror.Is(err, apierror.ErrDispatchFailed))
	ds.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
}

func TestDispatch_CallbackWonTheRace(t *testing.T) {
	f, ds, dispatcher := newTestForge(t, nil)
	dispatcher.err = context.DeadlineExceeded
	job := processingJob("job_fast", "user_1", model.FeatureVeo3, 10)

	ds.On("UpdateJobTerminal", mock.Anything, "job_fast", mock.Anything).
		Return(nil, apierror.NewAPIError(apierror.ErrAlreadyTerminal, "job is already terminal", nil)).Once()
	ds.On("GetJob", mock.Anything, "job_fast").
		Return(terminalJob(job, model.StatusCompleted, "https://cdn.example.com/v.mp4", ""), nil).Once()

	view, err := f.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, view.Status)
	ds.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
}
