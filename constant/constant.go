package constant

type AvatarStatus string

// Persisted avatar job vocabulary. Values are shared with clients and must not change.
const (
	AvatarStatusPending    AvatarStatus = "pending"
	AvatarStatusProcessing AvatarStatus = "processing"
	AvatarStatusCompleted  AvatarStatus = "completed"
	AvatarStatusError      AvatarStatus = "error"
)

type RecordingStatus string

// Persisted recording pipeline vocabulary.
const (
	RecordingStatusPending    RecordingStatus = "pending"
	RecordingStatusUploading  RecordingStatus = "uploading"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusFailed     RecordingStatus = "failed"
)

type InterviewStatus string

const (
	InterviewStatusPending    InterviewStatus = "pending"
	InterviewStatusInProgress InterviewStatus = "in_progress"
	InterviewStatusCompleted  InterviewStatus = "completed"
	InterviewStatusDeleted    InterviewStatus = "deleted"
)

func (s InterviewStatus) Valid() bool {
	switch s {
	case InterviewStatusPending, InterviewStatusInProgress, InterviewStatusCompleted, InterviewStatusDeleted:
		return true
	}
	return false
}

type JobKind string

const (
	JobKindAvatar    JobKind = "avatar"
	JobKindRecording JobKind = "recording"
)

// JobAction selects the step a job message asks for. The empty action is the
// job's first run.
type JobAction string

const (
	JobActionCheck  JobAction = "check"
	JobActionResume JobAction = "resume"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	DefaultVoiceID  = "en-US-JennyNeural"
	DefaultLanguage = "en"
)
