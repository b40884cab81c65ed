package forge

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

func TestReconcile_Completed(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_1", "user_1", model.FeatureVeo3, 10)
	uri := "https://cdn.example.com/out.mp4"

	ds.On("GetJob", mock.Anything, "job_1").Return(job, nil).Once()
	ds.On("UpdateJobTerminal", mock.Anything, "job_1", model.TerminalUpdate{Status: model.StatusCompleted, ResultURI: uri}).
		Return(terminalJob(job, model.StatusCompleted, uri, ""), nil).Once()

	result, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_1", Status: model.StatusCompleted, ResultURI: uri})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, result.Outcome)
	require.NotNil(t, result.Job.ResultURI)
	assert.Equal(t, uri, *result.Job.ResultURI)
	ds.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
	ds.AssertExpectations(t)
}

func TestReconcile_DuplicateCallbackIsNoOp(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := terminalJob(processingJob("job_1", "user_1", model.FeatureVeo3, 10), model.StatusCompleted, "https://cdn.example.com/out.mp4", "")

	ds.On("GetJob", mock.Anything, "job_1").Return(job, nil)

	for i := 0; i < 2; i++ {
		result, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_1", Status: model.StatusFailed, ErrorDetail: "late"})
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeAlreadyTerminal, result.Outcome)
		assert.Equal(t, model.StatusCompleted, result.Job.Status)
	}
	ds.AssertNotCalled(t, "UpdateJobTerminal", mock.Anything, mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
}

func TestReconcile_CompletedWithoutResultFailsAndRefunds(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_2", "user_1", model.FeatureBaby, 2)

	ds.On("GetJob", mock.Anything, "job_2").Return(job, nil).Once()
	ds.On("UpdateJobTerminal", mock.Anything, "job_2", model.TerminalUpdate{Status: model.StatusFailed, ErrorDetail: missingResultDetail}).
		Return(terminalJob(job, model.StatusFailed, "", missingResultDetail), nil).Once()
	ds.On("Credit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Reference == "refund:job_2" && e.Amount == 2 && e.OwnerID == "user_1"
	})).Return(int64(12), nil).Once()

	result, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_2", Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, result.Outcome)
	ds.AssertExpectations(t)
}

func TestReconcile_FailedRefundsOnce(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_3", "user_1", model.FeatureSeedance, 5)

	ds.On("GetJob", mock.Anything, "job_3").Return(job, nil).Once()
	ds.On("UpdateJobTerminal", mock.Anything, "job_3", model.TerminalUpdate{Status: model.StatusFailed, ErrorDetail: defaultFailureDetail}).
		Return(terminalJob(job, model.StatusFailed, "", defaultFailureDetail), nil).Once()
	ds.On("Credit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Type == model.EntryRefund && e.Reference == "refund:job_3"
	})).Return(int64(0), apierror.NewAPIError(apierror.ErrConflict, "credit entry 'refund:job_3' already applied", nil)).Once()

	result, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_3", Status: model.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, result.Outcome)
	require.NotNil(t, result.Job.ErrorDetail)
	assert.Equal(t, defaultFailureDetail, *result.Job.ErrorDetail)
	ds.AssertExpectations(t)
}

func TestReconcile_ChargesUsageBeyondIncludedSeconds(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_4", "user_1", model.FeatureHailuo, 6)
	uri := "https://cdn.example.com/long.mp4"
	duration := 10.0

	ds.On("GetJob", mock.Anything, "job_4").Return(job, nil).Once()
	ds.On("UpdateJobTerminal", mock.Anything, "job_4", mock.MatchedBy(func(u model.TerminalUpdate) bool {
		return u.Status == model.StatusCompleted &&
			u.ResultMeta[model.MetaDurationSeconds] == duration &&
			u.ResultMeta[model.MetaUsageCredits] == int64(2)
	})).Return(terminalJob(job, model.StatusCompleted, uri, ""), nil).Once()
	ds.On("TryDebit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Type == model.EntryUsage && e.Amount == 2 && e.Reference == "usage:job_4"
	})).Return(int64(1), nil).Once()

	result, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_4", Status: model.StatusCompleted, ResultURI: uri, DurationSeconds: &duration})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, result.Outcome)
	ds.AssertExpectations(t)
}

func TestReconcile_UsageChargeFailureKeepsCompletion(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_5", "user_1", model.FeatureSeedance, 5)
	uri := "https://cdn.example.com/long.mp4"
	duration := 8.0

	ds.On("GetJob", mock.Anything, "job_5").Return(job, nil).Once()
	ds.On("UpdateJobTerminal", mock.Anything, "job_5", mock.Anything).Return(terminalJob(job, model.StatusCompleted, uri, ""), nil).Once()
	ds.On("TryDebit", mock.Anything, mock.Anything).
		Return(int64(0), apierror.NewAPIError(apierror.ErrInsufficientCredits, "insufficient credits: 3 required", nil)).Once()

	result, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_5", Status: model.StatusCompleted, ResultURI: uri, DurationSeconds: &duration})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, result.Outcome)
	ds.AssertExpectations(t)
}

func TestReconcile_OwnershipAndFeatureChecks(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_6", "user_1", model.FeatureLipsync, 5)
	ds.On("GetJob", mock.Anything, "job_6").Return(job, nil)

	_, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_6", OwnerID: "user_2", Status: model.StatusCompleted, ResultURI: "https://x"})
	assert.True(t, apierror.Is(err, apierror.ErrForbidden))

	_, err = f.Reconcile(context.Background(), model.Callback{JobID: "job_6", FeatureKind: model.FeatureVeo3, Status: model.StatusCompleted, ResultURI: "https://x"})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	ds.AssertNotCalled(t, "UpdateJobTerminal", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcile_RejectsMalformedCallbacks(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)

	_, err := f.Reconcile(context.Background(), model.Callback{Status: model.StatusCompleted})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	_, err = f.Reconcile(context.Background(), model.Callback{JobID: "job_7", Status: model.StatusProcessing})
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	ds.On("GetJob", mock.Anything, "job_missing").Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "job not found", nil)).Once()
	_, err = f.Reconcile(context.Background(), model.Callback{JobID: "job_missing", Status: model.StatusFailed})
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestReconcile_RejectsUnboundedDuration(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)

	for _, duration := range []float64{math.Inf(1), math.NaN(), -1, 1e300} {
		d := duration
		_, err := f.Reconcile(context.Background(), model.Callback{
			JobID: "job_9", Status: model.StatusCompleted, ResultURI: "https://cdn.example.com/x.mp4", DurationSeconds: &d,
		})
		assert.True(t, apierror.Is(err, apierror.ErrInvalidInput), "duration %v", duration)
	}
	ds.AssertNotCalled(t, "UpdateJobTerminal", mock.Anything, mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "TryDebit", mock.Anything, mock.Anything)
}

func TestReconcile_FailureRefundSurvivesCancelledRequest(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_10", "user_1", model.FeatureSeedance, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })

	ds.On("GetJob", mock.Anything, "job_10").Return(job, nil).Once()
	ds.On("UpdateJobTerminal", mock.Anything, "job_10", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(terminalJob(job, model.StatusFailed, "", "gpu oom"), nil).Once()
	ds.On("Credit", live, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Reference == "refund:job_10" && e.Amount == 5
	})).Return(int64(5), nil).Once()

	result, err := f.Reconcile(ctx, model.Callback{JobID: "job_10", Status: model.StatusFailed, ErrorDetail: "gpu oom"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, result.Outcome)
	ds.AssertExpectations(t)
}

func TestReconcile_LostRaceReportsAlreadyTerminal(t *testing.T) {
	f, ds, _ := newTestForge(t, nil)
	job := processingJob("job_8", "user_1", model.FeatureVeo3, 10)
	expired := terminalJob(job, model.StatusFailed, "", "job expired: no worker callback within 1h0m0s")

	ds.On("GetJob", mock.Anything, "job_8").Return(job, nil).Once()
	ds.On("UpdateJobTerminal", mock.Anything, "job_8", mock.Anything).
		Return(nil, apierror.NewAPIError(apierror.ErrAlreadyTerminal, "job is already terminal", nil)).Once()
	ds.On("GetJob", mock.Anything, "job_8").Return(expired, nil).Once()

	result, err := f.Reconcile(context.Background(), model.Callback{JobID: "job_8", Status: model.StatusCompleted, ResultURI: "https://cdn.example.com/late.mp4"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAlreadyTerminal, result.Outcome)
	assert.Equal(t, model.StatusFailed, result.Job.Status)
	ds.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything)
	ds.AssertExpectations(t)
}
