package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"

	"github.com/botfleet/webhook-router/internal/breaker"
	"github.com/botfleet/webhook-router/internal/domain"
	"github.com/botfleet/webhook-router/internal/provider"
	"github.com/botfleet/webhook-router/internal/schema"
	"github.com/botfleet/webhook-router/pkg/config"
)

const (
	testBotID       = "3f1e9c1a-6f0d-4a3b-9a53-0b8f1d2c4e5f"
	testBroadcastID = "7c9a2e44-1b2f-4d86-9f0a-6d8c5b3a2e10"
)

type fakeCampaigns struct {
	mu sync.Mutex
	bc domain.Broadcast
}

func (f *fakeCampaigns) Get(context.Context, string) (*domain.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bc := f.bc
	return &bc, nil
}

func (f *fakeCampaigns) MarkProcessing(context.Context, string, time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.bc.Status {
	case domain.BroadcastScheduled, domain.BroadcastProcessing:
		f.bc.Status = domain.BroadcastProcessing
		return true, nil
	}
	return false, nil
}

func (f *fakeCampaigns) MarkCompleted(context.Context, string, time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bc.Status == domain.BroadcastProcessing {
		f.bc.Status = domain.BroadcastCompleted
	}
	return nil
}

func (f *fakeCampaigns) IncrementCounters(_ context.Context, _ string, sent, failed int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bc.SentCount += sent
	f.bc.FailedCount += failed
	return nil
}

func (f *fakeCampaigns) cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bc.Status = domain.BroadcastCancelled
}

func (f *fakeCampaigns) status() domain.BroadcastStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bc.Status
}

// fakeMessages mirrors the conditional-update claim semantics: a row moves
// out of pending exactly once no matter how many runs race.
type fakeMessages struct {
	mu   sync.Mutex
	rows map[int64]*domain.BroadcastMessage
}

func newFakeMessages(n int) *fakeMessages {
	f := &fakeMessages{rows: make(map[int64]*domain.BroadcastMessage)}
	for i := 1; i <= n; i++ {
		f.rows[int64(i)] = &domain.BroadcastMessage{
			ID:          int64(i),
			BroadcastID: testBroadcastID,
			RecipientID: int64(1000 + i),
			Status:      domain.BroadcastMessagePending,
		}
	}
	return f
}

func (f *fakeMessages) Claim(_ context.Context, _, runID string, limit int, now time.Time) ([]domain.BroadcastMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BroadcastMessage
	for i := int64(1); i <= int64(len(f.rows)) && len(out) < limit; i++ {
		row := f.rows[i]
		if row.Status != domain.BroadcastMessagePending {
			continue
		}
		row.Status = domain.BroadcastMessageSending
		row.ClaimedBy = runID
		at := now
		row.ClaimedAt = &at
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeMessages) ReclaimStale(_ context.Context, _, runID string, lease time.Duration, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, row := range f.rows {
		if row.Status == domain.BroadcastMessageSending && row.ClaimedBy != runID &&
			row.ClaimedAt != nil && row.ClaimedAt.Before(now.Add(-lease)) {
			row.Status = domain.BroadcastMessagePending
			row.ClaimedBy = ""
			row.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) MarkSent(_ context.Context, id int64, providerMsgID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.Status = domain.BroadcastMessageSent
	row.ProviderMsgID = providerMsgID
	at := now
	row.SentAt = &at
	return nil
}

func (f *fakeMessages) MarkFailed(_ context.Context, id int64, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id].Status = domain.BroadcastMessageFailed
	f.rows[id].Error = cause
	return nil
}

func (f *fakeMessages) Counts(context.Context, string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending, sending int64
	for _, row := range f.rows {
		switch row.Status {
		case domain.BroadcastMessagePending:
			pending++
		case domain.BroadcastMessageSending:
			sending++
		}
	}
	return pending, sending, nil
}

func (f *fakeMessages) countStatus(s domain.BroadcastMessageStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.rows {
		if row.Status == s {
			n++
		}
	}
	return n
}

type fakeBots struct{}

func (fakeBots) GetByID(context.Context, string) (*domain.Bot, error) {
	return &domain.Bot{ID: testBotID, Token: "123:abc"}, nil
}

type countingSender struct {
	mu    sync.Mutex
	texts int
	media int
	fail  func(recipientID int64) error
}

func (s *countingSender) SendText(_ context.Context, _ string, chatID int64, _ string, _ *telebot.SendOptions) (provider.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(chatID); err != nil {
			return provider.SendResult{}, err
		}
	}
	s.texts++
	return provider.SendResult{MessageID: "42"}, nil
}

func (s *countingSender) SendMedia(_ context.Context, _ string, _ int64, _ schema.Media, _ string, _ *telebot.SendOptions) (provider.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media++
	return provider.SendResult{MessageID: "43"}, nil
}

func (s *countingSender) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts + s.media
}

func fastConfig() config.BroadcastConfig {
	return config.BroadcastConfig{
		BatchSize:         5,
		MaxMessagesPerRun: 100,
		MaxRunDuration:    10 * time.Second,
		Lease:             time.Minute,
		MessagesPerSecond: 10000,
	}
}

func newRunner(campaigns CampaignStore, messages MessageStore, sender Sender, cfg config.BroadcastConfig) *Runner {
	return NewRunner(campaigns, messages, fakeBots{}, sender, breaker.New("postgres", breaker.Config{}), cfg, slog.Default())
}

func TestRunDrainsAndCompletes(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "hello", Status: domain.BroadcastScheduled, TotalRecipients: 12,
	}}
	messages := newFakeMessages(12)
	sender := &countingSender{}

	err := newRunner(campaigns, messages, sender, fastConfig()).Run(context.Background(), testBroadcastID)

	require.NoError(t, err)
	assert.Equal(t, domain.BroadcastCompleted, campaigns.status())
	assert.Equal(t, 12, sender.sent())
	assert.Equal(t, 12, messages.countStatus(domain.BroadcastMessageSent))
	assert.Equal(t, int64(12), campaigns.bc.SentCount)
}

func TestRunRecordsFailures(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "hello", Status: domain.BroadcastScheduled, TotalRecipients: 4,
	}}
	messages := newFakeMessages(4)
	sender := &countingSender{fail: func(recipientID int64) error {
		if recipientID == 1002 {
			return errors.New("blocked by recipient")
		}
		return nil
	}}

	err := newRunner(campaigns, messages, sender, fastConfig()).Run(context.Background(), testBroadcastID)

	require.NoError(t, err)
	assert.Equal(t, 3, messages.countStatus(domain.BroadcastMessageSent))
	assert.Equal(t, 1, messages.countStatus(domain.BroadcastMessageFailed))
	assert.Equal(t, int64(3), campaigns.bc.SentCount)
	assert.Equal(t, int64(1), campaigns.bc.FailedCount)
}

func TestConcurrentRunsNeverDoubleClaim(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "hello", Status: domain.BroadcastScheduled, TotalRecipients: 40,
	}}
	messages := newFakeMessages(40)
	sender := &countingSender{}
	cfg := fastConfig()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, newRunner(campaigns, messages, sender, cfg).Run(context.Background(), testBroadcastID))
		}()
	}
	wg.Wait()

	// Every row delivered exactly once across both runs.
	assert.Equal(t, 40, sender.sent())
	assert.Equal(t, 40, messages.countStatus(domain.BroadcastMessageSent))
}

func TestStaleLeaseIsReclaimed(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "hello", Status: domain.BroadcastProcessing, TotalRecipients: 3,
	}}
	messages := newFakeMessages(3)

	// Row 2 was claimed by a run that died well past the lease.
	stale := time.Now().Add(-10 * time.Minute)
	messages.rows[2].Status = domain.BroadcastMessageSending
	messages.rows[2].ClaimedBy = "01DEADRUN"
	messages.rows[2].ClaimedAt = &stale

	sender := &countingSender{}
	err := newRunner(campaigns, messages, sender, fastConfig()).Run(context.Background(), testBroadcastID)

	require.NoError(t, err)
	assert.Equal(t, 3, sender.sent(), "reclaimed row must be re-sent")
	assert.Equal(t, domain.BroadcastCompleted, campaigns.status())
}

func TestFreshLeaseIsLeftAlone(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "hello", Status: domain.BroadcastProcessing, TotalRecipients: 2,
	}}
	messages := newFakeMessages(2)

	recent := time.Now().Add(-5 * time.Second)
	messages.rows[1].Status = domain.BroadcastMessageSending
	messages.rows[1].ClaimedBy = "01LIVERUN"
	messages.rows[1].ClaimedAt = &recent

	sender := &countingSender{}
	err := newRunner(campaigns, messages, sender, fastConfig()).Run(context.Background(), testBroadcastID)

	require.NoError(t, err)
	assert.Equal(t, 1, sender.sent(), "only the pending row is delivered")
	// Another run still holds row 1, so the campaign is not completed.
	assert.Equal(t, domain.BroadcastProcessing, campaigns.status())
}

func TestCancellationStopsClaiming(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "hello", Status: domain.BroadcastScheduled, TotalRecipients: 20,
	}}
	messages := newFakeMessages(20)

	// Cancel while the first batch is in flight.
	sender := &countingSender{}
	sender.fail = func(int64) error {
		if sender.texts == 2 {
			campaigns.cancel()
		}
		return nil
	}

	cfg := fastConfig()
	cfg.BatchSize = 5
	err := newRunner(campaigns, messages, sender, cfg).Run(context.Background(), testBroadcastID)

	require.NoError(t, err)
	// The claimed batch finishes, nothing further is claimed.
	assert.Equal(t, 5, sender.sent())
	assert.Equal(t, 15, messages.countStatus(domain.BroadcastMessagePending))
	assert.Equal(t, domain.BroadcastCancelled, campaigns.status())
}

func TestMessageCountBudgetEndsRun(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "hello", Status: domain.BroadcastScheduled, TotalRecipients: 30,
	}}
	messages := newFakeMessages(30)
	sender := &countingSender{}

	cfg := fastConfig()
	cfg.MaxMessagesPerRun = 10
	require.NoError(t, newRunner(campaigns, messages, sender, cfg).Run(context.Background(), testBroadcastID))

	assert.Equal(t, 10, sender.sent())
	assert.Equal(t, domain.BroadcastProcessing, campaigns.status(), "resumable, not completed")

	// The next trigger resumes and drains the remainder.
	require.NoError(t, newRunner(campaigns, messages, sender, fastConfig()).Run(context.Background(), testBroadcastID))
	assert.Equal(t, 30, sender.sent())
	assert.Equal(t, domain.BroadcastCompleted, campaigns.status())
}

func TestDraftBroadcastIsNotRun(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Status: domain.BroadcastDraft,
	}}
	messages := newFakeMessages(5)
	sender := &countingSender{}

	require.NoError(t, newRunner(campaigns, messages, sender, fastConfig()).Run(context.Background(), testBroadcastID))

	assert.Equal(t, 0, sender.sent())
	assert.Equal(t, domain.BroadcastDraft, campaigns.status())
}

func TestMediaBroadcastUsesMediaSend(t *testing.T) {
	campaigns := &fakeCampaigns{bc: domain.Broadcast{
		ID: testBroadcastID, BotID: testBotID, Message: "caption",
		MediaURL: "https://cdn.example/p.jpg", MediaKind: "photo",
		Status: domain.BroadcastScheduled, TotalRecipients: 2,
	}}
	messages := newFakeMessages(2)
	sender := &countingSender{}

	require.NoError(t, newRunner(campaigns, messages, sender, fastConfig()).Run(context.Background(), testBroadcastID))

	assert.Equal(t, 2, sender.media)
	assert.Equal(t, 0, sender.texts)
}