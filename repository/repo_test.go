package repository_test

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"interview-orchestrator/constant"
	"interview-orchestrator/entities"
	"interview-orchestrator/repository"
	"interview-orchestrator/repository/repotest"
	"testing"
	"time"
)

func seedInterview(t *testing.T, repo repository.Repository, texts ...string) *entities.Interview {
	t.Helper()
	interview := &entities.Interview{Token: uuid.NewString(), Status: constant.InterviewStatusPending}
	for i, text := range texts {
		interview.Questions = append(interview.Questions, entities.Question{
			Text:        text,
			OrderNumber: i + 1,
			VoiceID:     constant.DefaultVoiceID,
		})
	}
	if _, err := repo.CreateInterview(context.Background(), interview); err != nil {
		t.Fatalf("create interview: %v", err)
	}
	return interview
}

func TestCreateInterviewCreatesAvatarJobs(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "Tell me about yourself", "Why this role?")

	got, err := repo.FindInterview(ctx, interview.ID)
	if err != nil {
		t.Fatalf("find interview: %v", err)
	}
	if len(got.Questions) != 2 {
		t.Fatalf("questions = %d, want 2", len(got.Questions))
	}
	if got.Questions[0].OrderNumber != 1 || got.Questions[1].OrderNumber != 2 {
		t.Fatalf("questions not ordered: %+v", got.Questions)
	}
	for _, q := range got.Questions {
		if q.AvatarVideoStatus != constant.AvatarStatusPending {
			t.Errorf("question %s status = %s", q.ID, q.AvatarVideoStatus)
		}
		job, err := repo.FindJob(ctx, q.ID, constant.JobKindAvatar)
		if err != nil {
			t.Fatalf("find job: %v", err)
		}
		if job.Generation != 1 || job.Status != string(constant.AvatarStatusPending) {
			t.Errorf("job = %+v", job)
		}
	}

	byToken, err := repo.FindInterviewByToken(ctx, interview.Token)
	if err != nil || byToken.ID != interview.ID {
		t.Fatalf("find by token: %v %v", byToken, err)
	}
}

func TestFindMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)

	if _, err := repo.FindInterview(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("interview err = %v", err)
	}
	if _, err := repo.FindQuestion(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("question err = %v", err)
	}
	if _, err := repo.FindResponse(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("response err = %v", err)
	}
	if err := repo.UpdateInterviewStatus(ctx, uuid.New(), constant.InterviewStatusCompleted); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("update err = %v", err)
	}
}

func TestCommitAvatarWritesEntityAndJob(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "Q1")
	qid := interview.Questions[0].ID

	job, err := repo.FindJob(ctx, qid, constant.JobKindAvatar)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	if err := repo.CommitAvatar(ctx, job, entities.AvatarProcessing("tlk_1")); err != nil {
		t.Fatalf("commit processing: %v", err)
	}
	if err := repo.CommitAvatar(ctx, job, entities.AvatarCompleted("tlk_1", "https://cdn/v.mp4")); err != nil {
		t.Fatalf("commit completed: %v", err)
	}

	q, err := repo.FindQuestion(ctx, qid)
	if err != nil {
		t.Fatalf("find question: %v", err)
	}
	if q.AvatarVideoStatus != constant.AvatarStatusCompleted {
		t.Fatalf("status = %s", q.AvatarVideoStatus)
	}
	if q.AvatarVideoURL == nil || *q.AvatarVideoURL != "https://cdn/v.mp4" {
		t.Fatalf("url = %v", q.AvatarVideoURL)
	}
	if q.AvatarVideoError != nil {
		t.Fatalf("error should be cleared, got %q", *q.AvatarVideoError)
	}

	stored, _ := repo.FindJob(ctx, qid, constant.JobKindAvatar)
	if stored.Status != string(constant.AvatarStatusCompleted) || stored.ExternalRef == nil || *stored.ExternalRef != "tlk_1" {
		t.Fatalf("job row = %+v", stored)
	}
}

func TestResetAvatarSupersedesOldGeneration(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "Q1")
	qid := interview.Questions[0].ID

	old, _ := repo.FindJob(ctx, qid, constant.JobKindAvatar)
	if err := repo.CommitAvatar(ctx, old, entities.AvatarFailed("boom")); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	style := "cheerful"
	fresh, err := repo.ResetAvatar(ctx, qid, "en-GB-SoniaNeural", &style)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if fresh.Generation != old.Generation+1 {
		t.Fatalf("generation = %d, want %d", fresh.Generation, old.Generation+1)
	}

	err = repo.CommitAvatar(ctx, old, entities.AvatarCompleted("stale", "https://stale"))
	if !errors.Is(err, repository.ErrSuperseded) {
		t.Fatalf("stale commit err = %v, want ErrSuperseded", err)
	}

	q, _ := repo.FindQuestion(ctx, qid)
	if q.AvatarVideoStatus != constant.AvatarStatusPending || q.AvatarVideoURL != nil || q.AvatarVideoError != nil || q.AvatarVideoID != nil {
		t.Fatalf("question not reset: %+v", q)
	}
	if q.VoiceID != "en-GB-SoniaNeural" || q.VoiceStyle == nil || *q.VoiceStyle != style {
		t.Fatalf("voice not updated: %+v", q)
	}
}

func TestCommitAfterDeleteIsSuperseded(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "Q1")
	qid := interview.Questions[0].ID

	job, _ := repo.FindJob(ctx, qid, constant.JobKindAvatar)
	if _, err := repo.DeleteQuestion(ctx, qid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.CommitAvatar(ctx, job, entities.AvatarProcessing("tlk")); !errors.Is(err, repository.ErrSuperseded) {
		t.Fatalf("err = %v", err)
	}
	if _, err := repo.FindJob(ctx, qid, constant.JobKindAvatar); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("job row should be gone, err = %v", err)
	}
}

func TestDeleteQuestionCascadesResponses(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "Q1", "Q2")
	q1, q2 := interview.Questions[0].ID, interview.Questions[1].ID

	resp := &entities.Response{InterviewID: interview.ID, QuestionID: q1}
	job, err := repo.CreateResponse(ctx, resp)
	if err != nil {
		t.Fatalf("create response: %v", err)
	}
	obj := entities.StoredObject{URL: "https://minio/rec.webm", Key: "recordings/x/rec.webm"}
	if err := repo.CommitRecording(ctx, job, entities.RecordingProcessing(obj), nil); err != nil {
		t.Fatalf("commit processing: %v", err)
	}
	other := &entities.Response{InterviewID: interview.ID, QuestionID: q2}
	if _, err := repo.CreateResponse(ctx, other); err != nil {
		t.Fatalf("create response: %v", err)
	}

	removed, err := repo.DeleteQuestion(ctx, q1)
	if err != nil {
		t.Fatalf("delete question: %v", err)
	}
	if len(removed) != 1 || removed[0].ID != resp.ID || removed[0].StorageKey == nil || *removed[0].StorageKey != obj.Key {
		t.Fatalf("removed = %+v", removed)
	}
	if _, err := repo.FindResponse(ctx, resp.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("response survives its question: %v", err)
	}
	if _, err := repo.FindJob(ctx, resp.ID, constant.JobKindRecording); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("recording job survives its question: %v", err)
	}
	if err := repo.CommitRecording(ctx, job, entities.RecordingCompleted(obj, nil), nil); !errors.Is(err, repository.ErrSuperseded) {
		t.Fatalf("late commit err = %v, want ErrSuperseded", err)
	}
	if _, err := repo.FindResponse(ctx, other.ID); err != nil {
		t.Fatalf("sibling response removed: %v", err)
	}
	if _, err := repo.DeleteQuestion(ctx, q1); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestCreateListAndUpdateQuestions(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "Q1", "Q2")

	added := &entities.Question{InterviewID: interview.ID, Text: "Q3", VoiceID: constant.DefaultVoiceID}
	job, err := repo.CreateQuestion(ctx, added)
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	if added.OrderNumber != 3 || job.Generation != 1 || job.EntityID != added.ID {
		t.Fatalf("question = %+v job = %+v", added, job)
	}
	taken := &entities.Question{InterviewID: interview.ID, Text: "dup", OrderNumber: 1}
	if _, err := repo.CreateQuestion(ctx, taken); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("taken order err = %v, want ErrConflict", err)
	}
	if _, err := repo.CreateQuestion(ctx, &entities.Question{InterviewID: uuid.New(), Text: "x"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown interview err = %v, want ErrNotFound", err)
	}

	list, err := repo.ListQuestions(ctx, interview.ID)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(list) != 3 || list[2].ID != added.ID {
		t.Fatalf("list = %+v", list)
	}
	if _, err := repo.ListQuestions(ctx, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("list unknown err = %v", err)
	}

	order := 10
	q, bumped, err := repo.UpdateQuestion(ctx, added.ID, repository.QuestionUpdate{OrderNumber: &order})
	if err != nil {
		t.Fatalf("update order: %v", err)
	}
	if q.OrderNumber != 10 || bumped != nil {
		t.Fatalf("order update = %d job %v", q.OrderNumber, bumped)
	}
	clash := 1
	if _, _, err := repo.UpdateQuestion(ctx, added.ID, repository.QuestionUpdate{OrderNumber: &clash}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("clashing order err = %v, want ErrConflict", err)
	}

	if err := repo.CommitAvatar(ctx, job, entities.AvatarCompleted("tlk", "https://did/a.mp4")); err != nil {
		t.Fatalf("commit avatar: %v", err)
	}
	text := "Q3, reworded"
	q, bumped, err = repo.UpdateQuestion(ctx, added.ID, repository.QuestionUpdate{Text: &text})
	if err != nil {
		t.Fatalf("update text: %v", err)
	}
	if bumped == nil || bumped.Generation != 2 {
		t.Fatalf("text update job = %+v, want generation 2", bumped)
	}
	stored, _ := repo.FindQuestion(ctx, added.ID)
	if stored.Text != text || stored.AvatarVideoStatus != constant.AvatarStatusPending || stored.AvatarVideoURL != nil {
		t.Fatalf("stored question = %+v", stored)
	}
	if err := repo.CommitAvatar(ctx, job, entities.AvatarProcessing("old")); !errors.Is(err, repository.ErrSuperseded) {
		t.Fatalf("old generation commit err = %v", err)
	}
}

func TestRecordingLifecycleAndPurge(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "Q1")

	resp := &entities.Response{InterviewID: interview.ID, QuestionID: interview.Questions[0].ID}
	job, err := repo.CreateResponse(ctx, resp)
	if err != nil {
		t.Fatalf("create response: %v", err)
	}

	obj := entities.StoredObject{URL: "https://minio/rec.webm", Key: "recordings/x/rec.webm"}
	if err := repo.CommitRecording(ctx, job, entities.RecordingUploading(), nil); err != nil {
		t.Fatalf("commit uploading: %v", err)
	}
	if err := repo.CommitRecording(ctx, job, entities.RecordingProcessing(obj), []byte(`{"size":10}`)); err != nil {
		t.Fatalf("commit processing: %v", err)
	}
	if err := repo.CommitRecording(ctx, job, entities.RecordingCompleted(obj, nil), nil); err != nil {
		t.Fatalf("commit completed: %v", err)
	}

	got, _ := repo.FindResponse(ctx, resp.ID)
	if got.Status != constant.RecordingStatusCompleted || got.VideoURL == nil || got.Transcription != nil {
		t.Fatalf("response = %+v", got)
	}
	if string(got.Metadata) != `{"size":10}` {
		t.Fatalf("metadata = %s", got.Metadata)
	}

	keys, err := repo.PurgeInterview(ctx, interview.ID)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(keys) != 1 || keys[0] != obj.Key {
		t.Fatalf("keys = %v", keys)
	}
	if _, err := repo.FindInterview(ctx, interview.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("interview still present: %v", err)
	}
	if _, err := repo.FindJob(ctx, resp.ID, constant.JobKindRecording); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("recording job still present: %v", err)
	}
	if _, err := repo.FindJob(ctx, interview.Questions[0].ID, constant.JobKindAvatar); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("avatar job still present: %v", err)
	}
}

func TestCreateResponseRejectsForeignQuestion(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	a := seedInterview(t, repo, "A")
	b := seedInterview(t, repo, "B")

	_, err := repo.CreateResponse(ctx, &entities.Response{InterviewID: a.ID, QuestionID: b.Questions[0].ID})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListInterviewsHidesDeleted(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	kept := seedInterview(t, repo, "A")
	gone := seedInterview(t, repo, "B")
	if err := repo.UpdateInterviewStatus(ctx, gone.ID, constant.InterviewStatusDeleted); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	list, err := repo.ListInterviews(ctx, repository.InterviewFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != kept.ID {
		t.Fatalf("list = %v", list)
	}

	deleted := constant.InterviewStatusDeleted
	list, _ = repo.ListInterviews(ctx, repository.InterviewFilter{Status: &deleted})
	if len(list) != 1 || list[0].ID != gone.ID {
		t.Fatalf("deleted list = %v", list)
	}
}

func TestListDueJobs(t *testing.T) {
	ctx := context.Background()
	repo := repotest.New(t)
	interview := seedInterview(t, repo, "A", "B")

	polled, _ := repo.FindJob(ctx, interview.Questions[0].ID, constant.JobKindAvatar)
	now := time.Now()
	polled.PolledAt = &now
	if err := repo.CommitAvatar(ctx, polled, entities.AvatarProcessing("tlk_a")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	due, _ := repo.FindJob(ctx, interview.Questions[1].ID, constant.JobKindAvatar)
	if err := repo.CommitAvatar(ctx, due, entities.AvatarProcessing("tlk_b")); err != nil {
		t.Fatalf("commit: %v", err)
	}

	jobs, err := repo.ListDueJobs(ctx, repository.DueFilter{
		Kind:         constant.JobKindAvatar,
		Statuses:     []string{string(constant.AvatarStatusProcessing)},
		PolledBefore: now.Add(-time.Second),
	})
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(jobs) != 1 || jobs[0].EntityID != interview.Questions[1].ID {
		t.Fatalf("due = %+v", jobs)
	}
}
