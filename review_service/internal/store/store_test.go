package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/scoring"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var testDB *sql.DB
var testContainer *postgres.PostgresContainer

const schemaPath = "../../../migrations/migrate/000001_peer_review.up.sql"

func TestMain(m *testing.M) {
	_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		panic(err)
	}

	metaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	port, err := container.MappedPort(metaCtx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		panic(err)
	}

	host := "127.0.0.1"
	connStr := fmt.Sprintf("postgres://postgres:postgres@%s:%s/testdb?sslmode=disable&connect_timeout=5", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		panic(err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(1 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Second)

	if err := waitForTCP(host, port.Port(), 20*time.Second); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		panic(err)
	}

	if err := waitForDB(db, 30*time.Second); err != nil {
		dumpContainerLogs(ctx, container)
		_ = db.Close()
		_ = container.Terminate(ctx)
		panic(err)
	}

	if err := createSchema(db); err != nil {
		dumpContainerLogs(ctx, container)
		_ = db.Close()
		_ = container.Terminate(ctx)
		panic(err)
	}

	testDB = db
	testContainer = container

	code := m.Run()

	_ = testDB.Close()
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func dumpContainerLogs(ctx context.Context, container *postgres.PostgresContainer) {
	logs, err := container.Logs(ctx)
	if err != nil {
		return
	}
	defer logs.Close()
	_, _ = io.ReadAll(logs)
}

func waitForDB(db *sql.DB, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		pingCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	return lastErr
}

func waitForTCP(host, port string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 1*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
		time.Sleep(300 * time.Millisecond)
	}
	return lastErr
}

func createSchema(db *sql.DB) error {
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return err
	}
	_, err = db.Exec(string(schema))
	return err
}

func resetDB(t *testing.T) {
	t.Helper()
	query := `TRUNCATE TABLE peer_review_reviews, peer_review_assignments, payments, submissions, users CASCADE`
	if _, err := testDB.Exec(query); err != nil {
		t.Fatalf("failed to reset db: %v", err)
	}
}

var (
	ctx     = context.Background()
	now     = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	contest = uuid.New().String()
)

func seedUser(t *testing.T, banned bool) string {
	t.Helper()
	id := uuid.New().String()
	_, err := testDB.Exec(`INSERT INTO users (id, email, name, is_banned) VALUES ($1, $2, $3, $4)`,
		id, id+"@example.com", "user "+id[:8], banned)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedSubmission(t *testing.T, userID string, status types.SubmissionStatus) string {
	t.Helper()
	id := uuid.New().String()
	_, err := testDB.Exec(`INSERT INTO submissions (id, contest_id, user_id, status) VALUES ($1, $2, $3, $4)`,
		id, contest, userID, status)
	if err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	return id
}

func seedPayment(t *testing.T, userID, submissionID string, status types.PaymentStatus) string {
	t.Helper()
	id := uuid.New().String()
	_, err := testDB.Exec(`INSERT INTO payments (id, user_id, submission_id, kind, status, amount)
		VALUES ($1, $2, $3, $4, $5, 500)`, id, userID, submissionID, types.PaymentKindPeerVerification, status)
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return id
}

func pending(submissionID, reviewerID string, kind types.AssignmentKind, deadline time.Time) *types.Assignment {
	return &types.Assignment{
		SubmissionID: submissionID,
		ReviewerID:   reviewerID,
		Kind:         kind,
		Status:       types.AssignmentPending,
		AssignedAt:   now,
		Deadline:     deadline,
	}
}

func seedAssignment(t *testing.T, s Store, a *types.Assignment) *types.Assignment {
	t.Helper()
	if err := s.CreateAssignments(ctx, []*types.Assignment{a}); err != nil {
		t.Fatalf("create assignment: %v", err)
	}
	return a
}

func TestStore_SubmissionsAndUsers(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	alice := seedUser(t, false)
	bob := seedUser(t, true)
	seedUser(t, false)
	subA := seedSubmission(t, alice, types.SubmissionSubmitted)
	seedSubmission(t, bob, types.SubmissionEliminated)

	sub, err := s.GetSubmission(ctx, subA)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.UserID != alice || sub.ContestID != contest || sub.ScorePeer != nil || sub.VerificationResult != nil {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	subs, err := s.ListContestSubmissions(ctx, contest)
	if err != nil {
		t.Fatalf("list submissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}

	users, err := s.ListContestUsers(ctx, contest)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected only contest authors, got %d users", len(users))
	}

	if _, err := s.GetSubmission(ctx, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SetUserBanned(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	id := seedUser(t, false)
	if err := s.SetUserBanned(ctx, id, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !u.IsBanned {
		t.Fatalf("expected user to be banned")
	}

	if err := s.SetUserBanned(ctx, uuid.New().String(), true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_CreateReview_CompletesAssignment(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	reviewer := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionSubmitted)
	a := seedAssignment(t, s, pending(sub, reviewer, types.KindStandard, now.Add(time.Hour)))

	if _, err := s.GetReviewByAssignment(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no review yet, got %v", err)
	}

	review := &types.Review{AssignmentID: a.ID, Scores: types.Scores{Clarity: 4, Argument: 3, Style: 5, MoralDepth: 2}, Comment: "ok"}
	created, err := s.CreateReview(ctx, review, now)
	if err != nil {
		t.Fatalf("create review: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected id to be set")
	}

	got, err := s.GetAssignment(ctx, a.ID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if got.Status != types.AssignmentDone || got.CompletedAt == nil {
		t.Fatalf("assignment not completed: %+v", got)
	}

	_, err = s.CreateReview(ctx, &types.Review{AssignmentID: a.ID, Scores: review.Scores}, now)
	if !errors.Is(err, ErrDuplicateReview) {
		t.Fatalf("expected ErrDuplicateReview, got %v", err)
	}

	counts, err := s.CountAssignments(ctx, sub, types.KindStandard)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Done != 1 || counts.Pending != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestStore_CreateReview_RejectsExpiredAssignment(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	reviewer := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionSubmitted)
	a := seedAssignment(t, s, pending(sub, reviewer, types.KindStandard, now.Add(-time.Hour)))

	if ok, err := s.ExpireAssignment(ctx, a.ID); err != nil || !ok {
		t.Fatalf("expire: %v %v", ok, err)
	}

	_, err := s.CreateReview(ctx, &types.Review{AssignmentID: a.ID, Scores: types.Scores{Clarity: 1, Argument: 1, Style: 1, MoralDepth: 1}}, now)
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if _, err := s.GetReviewByAssignment(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("review should have been rolled back, got %v", err)
	}
}

func TestStore_ExpireAndReassign(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	late := seedUser(t, false)
	fresh := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionSubmitted)
	overdue := seedAssignment(t, s, pending(sub, late, types.KindStandard, now.Add(-time.Minute)))
	seedAssignment(t, s, pending(sub, fresh, types.KindStandard, now.Add(time.Hour)))

	list, err := s.ListOverdueAssignments(ctx, now)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(list) != 1 || list[0].ID != overdue.ID {
		t.Fatalf("unexpected overdue list: %v", list)
	}

	if ok, _ := s.ExpireAssignment(ctx, overdue.ID); !ok {
		t.Fatalf("expected first expire to win")
	}
	if ok, _ := s.ExpireAssignment(ctx, overdue.ID); ok {
		t.Fatalf("second expire must be a no-op")
	}

	expired, err := s.ListUnreassignedExpired(ctx)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired assignment, got %d", len(expired))
	}

	replacement := pending(sub, fresh, types.KindStandard, now.Add(7*24*time.Hour))
	if err := s.ReassignAssignment(ctx, overdue.ID, replacement); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if replacement.ReassignedFrom != overdue.ID {
		t.Fatalf("replacement not linked: %+v", replacement)
	}

	again := pending(sub, fresh, types.KindStandard, now.Add(7*24*time.Hour))
	if err := s.ReassignAssignment(ctx, overdue.ID, again); !errors.Is(err, ErrAlreadyReassigned) {
		t.Fatalf("expected ErrAlreadyReassigned, got %v", err)
	}

	expired, _ = s.ListUnreassignedExpired(ctx)
	if len(expired) != 0 {
		t.Fatalf("reassigned row still listed")
	}

	counts, _ := s.CountAssignments(ctx, sub, types.KindStandard)
	if counts.Pending != 2 || counts.Expired != 0 {
		t.Fatalf("replaced expiry should not count: %+v", counts)
	}

	reviewers, err := s.ListSubmissionReviewers(ctx, sub)
	if err != nil {
		t.Fatalf("list reviewers: %v", err)
	}
	if len(reviewers) != 2 {
		t.Fatalf("expected 2 distinct reviewers, got %v", reviewers)
	}
}

func TestStore_ListUnreliableReviewers(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	flaky := seedUser(t, false)
	once := seedUser(t, false)
	old := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionSubmitted)

	expire := func(reviewer string, deadline time.Time) {
		a := seedAssignment(t, s, pending(sub, reviewer, types.KindStandard, deadline))
		if _, err := s.ExpireAssignment(ctx, a.ID); err != nil {
			t.Fatalf("expire: %v", err)
		}
	}
	expire(flaky, now.Add(-24*time.Hour))
	expire(flaky, now.Add(-48*time.Hour))
	expire(once, now.Add(-24*time.Hour))
	expire(old, now.Add(-40*24*time.Hour))
	expire(old, now.Add(-24*time.Hour))

	ids, err := s.ListUnreliableReviewers(ctx, now.Add(-30*24*time.Hour), 2)
	if err != nil {
		t.Fatalf("list unreliable: %v", err)
	}
	if len(ids) != 1 || ids[0] != flaky {
		t.Fatalf("expected only the flaky reviewer, got %v", ids)
	}
}

func TestStore_DueNotices(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	reviewer := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionSubmitted)
	inWindow := seedAssignment(t, s, pending(sub, reviewer, types.KindStandard, now.Add(23*time.Hour+30*time.Minute)))
	seedAssignment(t, s, pending(sub, reviewer, types.KindStandard, now.Add(24*time.Hour)))
	seedAssignment(t, s, pending(sub, reviewer, types.KindStandard, now.Add(3*time.Hour)))

	from, to := now.Add(23*time.Hour), now.Add(24*time.Hour)
	due, err := s.ListDueAssignments(ctx, types.NoticeWarning, from, to)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != inWindow.ID {
		t.Fatalf("unexpected due list: %v", due)
	}

	if err := s.MarkNoticeSent(ctx, types.NoticeWarning, []string{inWindow.ID}, now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	due, _ = s.ListDueAssignments(ctx, types.NoticeWarning, from, to)
	if len(due) != 0 {
		t.Fatalf("warned assignment listed again")
	}

	due, _ = s.ListDueAssignments(ctx, types.NoticeReminder, from, to)
	if len(due) != 1 {
		t.Fatalf("reminder stamp must be independent of warning stamp")
	}
}

func TestStore_RecomputePeerScore(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionSubmitted)
	for i := 1; i <= 5; i++ {
		a := seedAssignment(t, s, pending(sub, seedUser(t, false), types.KindStandard, now.Add(time.Hour)))
		scores := types.Scores{Clarity: i, Argument: i, Style: i, MoralDepth: i}
		if _, err := s.CreateReview(ctx, &types.Review{AssignmentID: a.ID, Scores: scores}, now); err != nil {
			t.Fatalf("create review: %v", err)
		}
	}

	var wg sync.WaitGroup
	results := make([]float64, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.RecomputePeerScore(ctx, sub, scoring.Consensus)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("recompute: %v", errs[i])
		}
		if results[i] != 3 {
			t.Fatalf("expected 3.00, got %v", results[i])
		}
	}

	got, _ := s.GetSubmission(ctx, sub)
	if got.ScorePeer == nil || *got.ScorePeer != 3 {
		t.Fatalf("score not stored: %v", got.ScorePeer)
	}

	if _, err := s.RecomputePeerScore(ctx, uuid.New().String(), scoring.Consensus); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_VerificationLifecycle(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionEliminated)
	paymentID := seedPayment(t, author, sub, types.PaymentPaid)

	p, err := s.GetVerificationPayment(ctx, sub, paymentID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if p.Status != types.PaymentPaid {
		t.Fatalf("unexpected payment status: %s", p.Status)
	}

	panel := []*types.Assignment{
		pending(sub, seedUser(t, false), types.KindVerification, now.Add(72*time.Hour)),
		pending(sub, seedUser(t, false), types.KindVerification, now.Add(72*time.Hour)),
	}
	if err := s.StartVerification(ctx, sub, now, panel); err != nil {
		t.Fatalf("start verification: %v", err)
	}
	if err := s.StartVerification(ctx, sub, now, nil); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged on second start, got %v", err)
	}

	stalled, err := s.ListStalledVerifications(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("list stalled: %v", err)
	}
	if len(stalled) != 1 || stalled[0].VerificationRequested == nil {
		t.Fatalf("unexpected stalled list: %v", stalled)
	}
	if stalled, _ := s.ListStalledVerifications(ctx, now); len(stalled) != 0 {
		t.Fatalf("request at cutoff is not stalled")
	}

	if ok, err := s.ExpireAssignment(ctx, panel[1].ID); err != nil || !ok {
		t.Fatalf("expire panelist: ok=%v err=%v", ok, err)
	}

	result := &types.VerificationResult{
		Outcome:      types.OutcomeIncomplete,
		TotalReviews: 2,
		Refund:       true,
		DecidedAt:    now.Add(96 * time.Hour),
	}
	refunded, err := s.EliminateIncompleteVerification(ctx, sub, result)
	if err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	if refunded == nil || refunded.ID != paymentID || refunded.Status != types.PaymentRefunded || refunded.RefundedAt == nil {
		t.Fatalf("payment not refunded: %+v", refunded)
	}

	got, _ := s.GetSubmission(ctx, sub)
	if got.Status != types.SubmissionEliminated {
		t.Fatalf("unexpected status: %s", got.Status)
	}
	if got.VerificationResult == nil || got.VerificationResult.Outcome != types.OutcomeIncomplete || !got.VerificationResult.Refund {
		t.Fatalf("unexpected result: %+v", got.VerificationResult)
	}

	if _, err := s.EliminateIncompleteVerification(ctx, sub, result); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged on repeat, got %v", err)
	}

	var status string
	if err := testDB.QueryRow(`SELECT status FROM peer_review_assignments WHERE id = $1`, panel[0].ID).Scan(&status); err != nil {
		t.Fatalf("read panelist: %v", err)
	}
	if status != string(types.AssignmentClosed) {
		t.Fatalf("pending panelist should be CLOSED, got %s", status)
	}
	if overdue, _ := s.ListOverdueAssignments(ctx, now.Add(200*time.Hour)); len(overdue) != 0 {
		t.Fatalf("decided panel still overdue: %v", overdue)
	}
	if expired, _ := s.ListUnreassignedExpired(ctx); len(expired) != 0 {
		t.Fatalf("decided panel still open for reassignment: %v", expired)
	}
}

func TestStore_VerificationRoundsAreScoped(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionEliminated)

	standard := seedAssignment(t, s, pending(sub, seedUser(t, false), types.KindStandard, now.Add(time.Hour)))
	if _, err := s.CreateReview(ctx, &types.Review{AssignmentID: standard.ID, Scores: types.Scores{Clarity: 5, Argument: 5, Style: 5, MoralDepth: 5}}, now); err != nil {
		t.Fatalf("create review: %v", err)
	}

	first := pending(sub, seedUser(t, false), types.KindVerification, now.Add(72*time.Hour))
	if err := s.StartVerification(ctx, sub, now, []*types.Assignment{first}); err != nil {
		t.Fatalf("start verification: %v", err)
	}
	if _, err := s.CreateReview(ctx, &types.Review{AssignmentID: first.ID, Scores: types.Scores{Clarity: 1, Argument: 1, Style: 1, MoralDepth: 1}}, now); err != nil {
		t.Fatalf("create review: %v", err)
	}

	score, err := s.RecomputePeerScore(ctx, sub, scoring.Consensus)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if score != 5 {
		t.Fatalf("verification reviews must not count toward score_peer, got %v", score)
	}

	decided := &types.VerificationResult{Outcome: types.OutcomeConfirmed, CompletedReviews: 1, TotalReviews: 1, DecidedAt: now.Add(time.Hour)}
	if err := s.CompleteVerification(ctx, sub, types.SubmissionEliminated, decided); err != nil {
		t.Fatalf("complete: %v", err)
	}

	later := now.Add(30 * 24 * time.Hour)
	second := pending(sub, seedUser(t, false), types.KindVerification, later.Add(72*time.Hour))
	second.AssignedAt = later
	if err := s.StartVerification(ctx, sub, later, []*types.Assignment{second}); err != nil {
		t.Fatalf("start second round: %v", err)
	}

	counts, err := s.CountAssignments(ctx, sub, types.KindVerification)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Done != 0 || counts.Pending != 1 {
		t.Fatalf("first round leaked into the second: %+v", counts)
	}
	reviews, err := s.ListSubmissionReviews(ctx, sub, types.KindVerification)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 0 {
		t.Fatalf("expected no second-round reviews, got %d", len(reviews))
	}
}

func TestStore_CompleteVerification(t *testing.T) {
	resetDB(t)
	s := NewStore(testDB)

	author := seedUser(t, false)
	sub := seedSubmission(t, author, types.SubmissionEliminated)
	if err := s.StartVerification(ctx, sub, now, nil); err != nil {
		t.Fatalf("start verification: %v", err)
	}

	score := 3.5
	result := &types.VerificationResult{Outcome: types.OutcomeReinstated, CompletedReviews: 10, TotalReviews: 10, Score: &score, DecidedAt: now}
	if err := s.CompleteVerification(ctx, sub, types.SubmissionReinstated, result); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := s.GetSubmission(ctx, sub)
	if got.Status != types.SubmissionReinstated {
		t.Fatalf("unexpected status: %s", got.Status)
	}
	if got.VerificationResult.Score == nil || *got.VerificationResult.Score != 3.5 {
		t.Fatalf("score not persisted: %+v", got.VerificationResult)
	}

	if err := s.CompleteVerification(ctx, sub, types.SubmissionReinstated, result); !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged, got %v", err)
	}
}
