package reconciler

import (
	"context"
	"github.com/google/uuid"
	"go.uber.org/goleak"
	"interview-orchestrator/constant"
	"interview-orchestrator/dispatcher"
	"interview-orchestrator/dto"
	"interview-orchestrator/entities"
	"interview-orchestrator/events"
	"interview-orchestrator/provider"
	"interview-orchestrator/repository"
	"interview-orchestrator/repository/repotest"
	"interview-orchestrator/service"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	defer goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

type stubAvatar struct {
	mu    sync.Mutex
	state provider.RemoteState
	polls int
}

func (s *stubAvatar) SynthesizeAvatar(_ context.Context, req provider.AvatarRequest) (string, error) {
	return "tlk_" + req.Text, nil
}

func (s *stubAvatar) PollAvatarStatus(_ context.Context, ref string) (provider.AvatarStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.state == provider.RemoteDone {
		return provider.AvatarStatus{State: provider.RemoteDone, VideoURL: "https://did.test/" + ref + ".mp4"}, nil
	}
	return provider.AvatarStatus{State: provider.RemotePending}, nil
}

func (s *stubAvatar) set(state provider.RemoteState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

type stubStore struct{}

func (stubStore) StoreObject(_ context.Context, obj provider.Object) (entities.StoredObject, error) {
	return entities.StoredObject{URL: "https://storage.test/" + obj.KeyHint, Key: obj.KeyHint}, nil
}

func (stubStore) DeleteObject(context.Context, string) error { return nil }

type recordingGuard struct {
	*dispatcher.Dispatcher
	mu        sync.Mutex
	submitted []dto.JobMessage
}

func (g *recordingGuard) Submit(_ context.Context, msg dto.JobMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, msg)
	return nil
}

// remoteGuard stands in for a dispatcher owned by another process.
type remoteGuard struct {
	recordingGuard
	t *testing.T
}

func (g *remoteGuard) RunExclusive(context.Context, entities.JobKey, int64, func(ctx context.Context) error) (bool, error) {
	g.t.Error("RunExclusive called on a guard owned by another process")
	return false, nil
}

type fixture struct {
	repo       repository.Repository
	avatar     *stubAvatar
	avatars    *service.AvatarController
	recordings *service.RecordingController
	dispatcher *dispatcher.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{repo: repotest.New(t), avatar: &stubAvatar{}}
	f.avatars = service.NewAvatarController(f.repo, f.avatar, events.Nop(), service.AvatarConfig{MaxAttempts: 1, RetryDelay: time.Millisecond})
	f.recordings = service.NewRecordingController(f.repo, stubStore{}, provider.DisabledTranscriber{}, events.Nop(), service.RecordingConfig{
		UploadAttempts:     1,
		TranscribeAttempts: 1,
		RetryDelay:         time.Millisecond,
		DefaultLanguage:    constant.DefaultLanguage,
	})
	// the transport is never run: only the slot guard is exercised
	f.dispatcher = dispatcher.New(ctx, dispatcher.NewMemoryTransport(16, 1), func(context.Context, dto.JobMessage) error { return nil })
	return f
}

func (f *fixture) interview(t *testing.T, texts ...string) *entities.Interview {
	t.Helper()
	interview := &entities.Interview{Token: uuid.NewString(), Status: constant.InterviewStatusPending}
	for i, text := range texts {
		interview.Questions = append(interview.Questions, entities.Question{Text: text, OrderNumber: i + 1, VoiceID: constant.DefaultVoiceID})
	}
	if _, err := f.repo.CreateInterview(context.Background(), interview); err != nil {
		t.Fatalf("CreateInterview() error = %v", err)
	}
	return interview
}

func (f *fixture) reconciler(guard Guard, cfg Config) *Reconciler {
	return New(f.repo, guard, f.avatars, cfg)
}

func TestSweepPollsProcessingAvatars(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1", "Q2")
	for _, q := range interview.Questions {
		if err := f.avatars.Start(ctx, q.ID, 1); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}

	f.avatar.set(provider.RemoteDone)
	r := f.reconciler(f.dispatcher, Config{MinPollInterval: time.Minute})
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Polled != 2 {
		t.Fatalf("polled = %d, want 2", res.Polled)
	}
	for _, q := range interview.Questions {
		got, _ := f.repo.FindQuestion(ctx, q.ID)
		if got.AvatarVideoStatus != constant.AvatarStatusCompleted || got.AvatarVideoURL == nil {
			t.Errorf("question %s avatar = %s %v", q.ID, got.AvatarVideoStatus, got.AvatarVideoURL)
		}
	}
}

func TestSweepRespectsMinPollInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1")
	if err := f.avatars.Start(ctx, interview.Questions[0].ID, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r := f.reconciler(f.dispatcher, Config{MinPollInterval: time.Hour})
	before := f.avatar.polls
	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Polled != 0 || f.avatar.polls != before {
		t.Fatalf("recently polled job was polled again: %+v", res)
	}
}

func TestSweepSkipsBusyJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1")
	qid := interview.Questions[0].ID
	if err := f.avatars.Start(ctx, qid, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// a regeneration is queued for the same question
	if err := f.dispatcher.Submit(ctx, dto.JobMessage{Kind: constant.JobKindAvatar, EntityID: qid, Generation: 2}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	r := f.reconciler(f.dispatcher, Config{})
	r.now = func() time.Time { return time.Now().Add(time.Minute) }
	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Busy != 1 || res.Polled != 0 {
		t.Fatalf("result = %+v, want one busy job", res)
	}
}

func TestSweepResubmitsStalePendingAvatars(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1")

	guard := &recordingGuard{Dispatcher: f.dispatcher}
	r := f.reconciler(guard, Config{StaleAfter: time.Minute})

	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Resubmitted != 0 {
		t.Fatalf("fresh pending job resubmitted: %+v", res)
	}

	r.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	res, err = r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Resubmitted != 1 || len(guard.submitted) != 1 {
		t.Fatalf("result = %+v, submitted %v", res, guard.submitted)
	}
	msg := guard.submitted[0]
	if msg.EntityID != interview.Questions[0].ID || msg.Kind != constant.JobKindAvatar || msg.Generation != 1 {
		t.Fatalf("resubmitted message = %+v", msg)
	}
}

func TestSweepResumesStaleRecordings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1", "Q2")

	spool := filepath.Join(t.TempDir(), "upload.webm")
	if err := os.WriteFile(spool, []byte("data"), 0o600); err != nil {
		t.Fatalf("write spool: %v", err)
	}
	withSpool := &entities.Response{
		InterviewID: interview.ID,
		QuestionID:  interview.Questions[0].ID,
		Metadata:    entities.RecordingMetadata{FileName: "a.webm", SpoolPath: spool}.JSON(),
	}
	lost := &entities.Response{
		InterviewID: interview.ID,
		QuestionID:  interview.Questions[1].ID,
		Metadata:    entities.RecordingMetadata{FileName: "b.webm", SpoolPath: filepath.Join(t.TempDir(), "gone.webm")}.JSON(),
	}
	for _, resp := range []*entities.Response{withSpool, lost} {
		if _, err := f.repo.CreateResponse(ctx, resp); err != nil {
			t.Fatalf("CreateResponse() error = %v", err)
		}
	}

	guard := &recordingGuard{Dispatcher: f.dispatcher}
	r := f.reconciler(guard, Config{StaleAfter: time.Minute})
	r.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Resumed != 2 || len(guard.submitted) != 2 {
		t.Fatalf("resumed = %d, submitted %v", res.Resumed, guard.submitted)
	}
	got, _ := f.repo.FindResponse(ctx, withSpool.ID)
	if got.Status != constant.RecordingStatusPending {
		t.Fatalf("sweep ran the pipeline inline: %s", got.Status)
	}

	processor := service.NewService(f.avatars, f.recordings)
	for _, msg := range guard.submitted {
		if msg.Kind != constant.JobKindRecording || msg.Action != constant.JobActionResume || msg.Generation != 1 {
			t.Fatalf("resume message = %+v", msg)
		}
		if err := processor.Process(ctx, msg); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
	}

	got, _ = f.repo.FindResponse(ctx, withSpool.ID)
	if got.Status != constant.RecordingStatusCompleted || got.VideoURL == nil {
		t.Errorf("resumed recording = %s %v", got.Status, got.VideoURL)
	}
	got, _ = f.repo.FindResponse(ctx, lost.ID)
	if got.Status != constant.RecordingStatusFailed || got.Error == nil || *got.Error != "upload interrupted" {
		t.Errorf("lost recording = %s %v", got.Status, got.Error)
	}
}

func TestSubmitOnlySweepNeverRunsInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1", "Q2")
	processing := interview.Questions[0].ID
	if err := f.avatars.Start(ctx, processing, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp := &entities.Response{InterviewID: interview.ID, QuestionID: interview.Questions[1].ID}
	if _, err := f.repo.CreateResponse(ctx, resp); err != nil {
		t.Fatalf("CreateResponse() error = %v", err)
	}

	f.avatar.set(provider.RemoteDone)
	guard := &remoteGuard{recordingGuard: recordingGuard{Dispatcher: f.dispatcher}, t: t}
	r := f.reconciler(guard, Config{StaleAfter: time.Minute, MinPollInterval: time.Minute, SubmitOnly: true})
	r.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	polls := f.avatar.polls

	res, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Polled != 1 || res.Resubmitted != 1 || res.Resumed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if f.avatar.polls != polls {
		t.Fatal("submit-only sweep polled the provider")
	}

	want := map[uuid.UUID]constant.JobAction{
		processing:                constant.JobActionCheck,
		interview.Questions[1].ID: "",
		resp.ID:                   constant.JobActionResume,
	}
	if len(guard.submitted) != len(want) {
		t.Fatalf("submitted = %+v", guard.submitted)
	}
	for _, msg := range guard.submitted {
		action, ok := want[msg.EntityID]
		if !ok || msg.Action != action {
			t.Errorf("unexpected message %+v", msg)
		}
	}
	q, _ := f.repo.FindQuestion(ctx, processing)
	if q.AvatarVideoStatus != constant.AvatarStatusProcessing {
		t.Errorf("avatar committed by a submit-only sweep: %s", q.AvatarVideoStatus)
	}
}

func TestSweepCleansSpoolDir(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	old := filepath.Join(dir, "upload-old.webm")
	if err := os.WriteFile(old, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	r := f.reconciler(f.dispatcher, Config{SpoolDir: dir, SpoolMaxAge: time.Hour})
	res, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.SpoolFiles != 1 {
		t.Fatalf("spool files removed = %d, want 1", res.SpoolFiles)
	}
}

func TestCheckAvatar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1")
	qid := interview.Questions[0].ID
	if err := f.avatars.Start(ctx, qid, 1); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r := f.reconciler(f.dispatcher, Config{MinPollInterval: time.Minute})
	polls := f.avatar.polls
	if err := r.CheckAvatar(ctx, qid); err != nil {
		t.Fatalf("CheckAvatar() error = %v", err)
	}
	if f.avatar.polls != polls {
		t.Fatalf("CheckAvatar polled inside the min interval")
	}

	f.avatar.set(provider.RemoteDone)
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := r.CheckAvatar(ctx, qid); err != nil {
		t.Fatalf("CheckAvatar() error = %v", err)
	}
	got, _ := f.repo.FindQuestion(ctx, qid)
	if got.AvatarVideoStatus != constant.AvatarStatusCompleted {
		t.Fatalf("avatar status = %s, want completed", got.AvatarVideoStatus)
	}

	if err := r.CheckAvatar(ctx, uuid.New()); err != nil {
		t.Fatalf("CheckAvatar(unknown) error = %v, want nil", err)
	}
}

func TestCheckRecordingSubmitsOnlyStaleJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	interview := f.interview(t, "Q1")
	resp := &entities.Response{InterviewID: interview.ID, QuestionID: interview.Questions[0].ID}
	if _, err := f.repo.CreateResponse(ctx, resp); err != nil {
		t.Fatalf("CreateResponse() error = %v", err)
	}

	r := f.reconciler(f.dispatcher, Config{StaleAfter: time.Minute})
	if err := r.CheckRecording(ctx, resp.ID); err != nil {
		t.Fatalf("CheckRecording() error = %v", err)
	}
	got, _ := f.repo.FindResponse(ctx, resp.ID)
	if got.Status != constant.RecordingStatusPending {
		t.Fatalf("fresh recording touched: %s", got.Status)
	}

	r.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	if err := r.CheckRecording(ctx, resp.ID); err != nil {
		t.Fatalf("CheckRecording() error = %v", err)
	}
	got, _ = f.repo.FindResponse(ctx, resp.ID)
	if got.Status != constant.RecordingStatusPending {
		t.Fatalf("status read ran the pipeline inline: %s", got.Status)
	}
	key := entities.JobKey{EntityID: resp.ID, Kind: constant.JobKindRecording}
	if !f.dispatcher.Active(key) {
		t.Fatal("stale recording was not handed to the dispatcher")
	}

	// a second read while the resume is queued is not an error
	if err := r.CheckRecording(ctx, resp.ID); err != nil {
		t.Fatalf("CheckRecording() while queued error = %v", err)
	}
	if err := r.CheckRecording(ctx, uuid.New()); err != nil {
		t.Fatalf("CheckRecording(unknown) error = %v, want nil", err)
	}
}
