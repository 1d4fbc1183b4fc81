package context

import (
	"fmt"
	"testing"

	"github.com/streamloop/toolstream/message"
)

func TestAddMessageTrimsOldest(t *testing.T) {
	ctx := NewWithMaxSize(3)
	for i := 0; i < 5; i++ {
		ctx.AddMessage(message.NewMessage(message.RoleUser, fmt.Sprintf("msg-%d", i)))
	}

	if ctx.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", ctx.Size())
	}
	msgs := ctx.GetMessages()
	if msgs[0].Content != "msg-2" || msgs[2].Content != "msg-4" {
		t.Errorf("window = [%s .. %s], want [msg-2 .. msg-4]", msgs[0].Content, msgs[2].Content)
	}
}

func TestTrimPreservesSystemMessages(t *testing.T) {
	ctx := NewWithMaxSize(3)
	ctx.AddMessage(message.NewMessage(message.RoleSystem, "be brief"))
	for i := 0; i < 5; i++ {
		ctx.AddMessage(message.NewMessage(message.RoleUser, fmt.Sprintf("msg-%d", i)))
	}

	if ctx.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", ctx.Size())
	}
	msgs := ctx.GetMessages()
	if msgs[0].Role != message.RoleSystem {
		t.Errorf("first message role = %s, want system", msgs[0].Role)
	}
	if last := ctx.GetLastMessage(); last == nil || last.Content != "msg-4" {
		t.Errorf("last message = %+v, want msg-4", last)
	}
}

func TestGetMessagesByRole(t *testing.T) {
	ctx := New()
	ctx.AddMessage(message.NewMessage(message.RoleSystem, "sys"))
	ctx.AddMessage(message.NewMessage(message.RoleUser, "hi"))
	ctx.AddMessage(message.NewMessage(message.RoleAssistant, "hello"))
	ctx.AddMessage(message.NewMessage(message.RoleUser, "bye"))

	users := ctx.GetMessagesByRole(message.RoleUser)
	if len(users) != 2 {
		t.Errorf("user messages = %d, want 2", len(users))
	}
}

func TestClear(t *testing.T) {
	ctx := New()
	ctx.AddMessage(message.NewMessage(message.RoleUser, "hi"))
	ctx.Clear()

	if ctx.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", ctx.Size())
	}
	if ctx.GetLastMessage() != nil {
		t.Error("GetLastMessage() after Clear should be nil")
	}
}

func TestNewWithMaxSizeGuardsNonPositive(t *testing.T) {
	ctx := NewWithMaxSize(0)
	for i := 0; i < 10; i++ {
		ctx.AddMessage(message.NewMessage(message.RoleUser, "m"))
	}
	if ctx.Size() != 10 {
		t.Errorf("Size() = %d, want 10 under default window", ctx.Size())
	}
}
