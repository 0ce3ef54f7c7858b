package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gyaanguru/tutor/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo Repository, id string) {
	t.Helper()
	now := time.Now()
	if err := repo.UpsertAccount(context.Background(), &domain.Account{
		AccountID:   id,
		DisplayName: "anon",
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}
}

func TestGetAccountMissing(t *testing.T) {
	repo := newTestStore(t)

	account, err := repo.GetAccount(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account != nil {
		t.Fatalf("expected nil account, got %+v", account)
	}
}

func TestProfileRoundTripMarksOnboarding(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, repo, "anon_1")

	in := &domain.LearnerProfile{
		AccountID:         "anon_1",
		Name:              "Asha",
		Grade:             "6",
		Age:               11,
		PreferredLanguage: "Hindi",
		TeachingStyle:     domain.StylePatientSlow,
		Subjects:          []string{"Science", "Mathematics"},
		DailyStudyTime:    "1 hour",
	}
	if err := repo.UpsertProfile(ctx, in); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}

	got, err := repo.GetProfile(ctx, "anon_1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected profile")
	}
	if got.Name != "Asha" || got.TeachingStyle != domain.StylePatientSlow {
		t.Fatalf("unexpected profile: %+v", got)
	}
	if diff := cmp.Diff([]string{"Science", "Mathematics"}, got.Subjects); diff != "" {
		t.Fatalf("subjects mismatch (-want +got):\n%s", diff)
	}

	account, err := repo.GetAccount(ctx, "anon_1")
	if err != nil || account == nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if !account.OnboardingCompleted {
		t.Fatal("expected onboarding to be marked complete")
	}
	if account.DisplayName != "Asha" {
		t.Fatalf("expected display name to follow profile, got %q", account.DisplayName)
	}
}

func TestSessionHistory(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	record := &domain.SessionRecord{
		SessionID: "sess-1",
		AccountID: "anon_1",
		Phase:     "setup",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateSession(ctx, record); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	record.Subject = "Science"
	record.Phase = "active"
	if err := repo.UpdateSession(ctx, record); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	att := domain.Attachment{DisplayName: "notes.pdf", MediaType: "application/pdf", ByteSize: 42, RetrievalLocation: "/files/x"}
	if err := repo.AppendAttachment(ctx, "sess-1", 0, att); err != nil {
		t.Fatalf("AppendAttachment failed: %v", err)
	}

	msgs := []domain.Message{
		{ID: 1, Speaker: domain.SpeakerTutor, Body: "Hello!", CreatedAt: time.UnixMilli(now.UnixMilli())},
		{ID: 2, Speaker: domain.SpeakerLearner, Body: "what is gravity?", CreatedAt: time.UnixMilli(now.UnixMilli() + 5)},
	}
	for _, msg := range msgs {
		if err := repo.AppendMessage(ctx, "sess-1", msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	history, err := repo.GetSessionHistory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSessionHistory failed: %v", err)
	}
	if history == nil {
		t.Fatal("expected history")
	}
	if history.Subject != "Science" || history.Phase != "active" || history.MessageCount != 2 {
		t.Fatalf("unexpected record: %+v", history.SessionRecord)
	}
	if diff := cmp.Diff([]domain.Attachment{att}, history.Attachments); diff != "" {
		t.Fatalf("attachments mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(msgs, history.Messages); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}

	list, err := repo.ListSessions(ctx, "anon_1", 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(list) != 1 || list[0].MessageCount != 2 {
		t.Fatalf("unexpected session list: %+v", list)
	}
}

func TestGetSessionHistoryMissing(t *testing.T) {
	repo := newTestStore(t)

	history, err := repo.GetSessionHistory(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSessionHistory failed: %v", err)
	}
	if history != nil {
		t.Fatalf("expected nil history, got %+v", history)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	if err := repo.CreateSession(ctx, &domain.SessionRecord{
		SessionID: "old", AccountID: "a", Phase: "active", CreatedAt: old, UpdatedAt: old,
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := repo.CreateSession(ctx, &domain.SessionRecord{
		SessionID: "new", AccountID: "a", Phase: "active", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	n, err := repo.CleanupExpiredSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session removed, got %d", n)
	}
}
