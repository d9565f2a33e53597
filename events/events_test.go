package events

import (
	"context"
	"github.com/google/uuid"
	"interview-orchestrator/constant"
	"interview-orchestrator/dto"
	"testing"
)

func TestNewRedisPublisherRequiresAddr(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error without addr")
	}
}

func TestNewRedisPublisherUnreachable(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping error for unreachable redis")
	}
}

func TestRecorderReturnsCopy(t *testing.T) {
	r := &Recorder{}
	r.Publish(context.Background(), dto.StatusEvent{Kind: constant.JobKindAvatar, EntityID: uuid.New(), Status: "processing", Generation: 1})

	got := r.Events()
	if len(got) != 1 || got[0].Status != "processing" {
		t.Fatalf("events = %+v", got)
	}
	got[0].Status = "mutated"
	if r.Events()[0].Status != "processing" {
		t.Fatal("Events exposed internal slice")
	}
}

func TestNop(t *testing.T) {
	p := Nop()
	p.Publish(context.Background(), dto.StatusEvent{})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
}
