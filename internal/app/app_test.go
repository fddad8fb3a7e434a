package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/bus"
	"companion/internal/config"
	"companion/internal/conversation"
	"companion/internal/events"
	"companion/internal/ipc"
)

type echoLLM struct {
	mu      sync.Mutex
	prompts []string
}

func (e *echoLLM) Complete(_ context.Context, system string, history []conversation.Turn) (string, error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, system)
	e.mu.Unlock()
	// keep the chunk's own tags out of the reply
	said := strings.NewReplacer("[", "(", "]", ")").Replace(history[len(history)-1].Text)
	return "[console] you said: " + said, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	// unix socket paths are short, keep it out of the test temp dir
	sockDir, err := os.MkdirTemp("", "companion")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg := config.Default()
	cfg.Console.Enabled = false
	cfg.Chunker.ProcessorDelay = 20 * time.Millisecond
	cfg.Chunker.Tick = 5 * time.Millisecond
	cfg.Transcript.Dir = filepath.Join(t.TempDir(), "logs")
	cfg.IPC.Socket = filepath.Join(sockDir, "ctl.sock")
	return cfg
}

type harness struct {
	app    *App
	routed chan events.OutputRoutingEvent
	ready  chan struct{}
	done   chan error
}

func start(t *testing.T, cfg config.Config, llm conversation.Completer) *harness {
	t.Helper()
	a, err := New(cfg, Deps{LLM: llm})
	require.NoError(t, err)

	h := &harness{
		app:    a,
		routed: make(chan events.OutputRoutingEvent, 8),
		ready:  make(chan struct{}),
		done:   make(chan error, 1),
	}
	_, err = bus.On(a.Bus(), bus.TypeOf[events.OutputRoutingEvent](), func(_ context.Context, e events.OutputRoutingEvent) error {
		h.routed <- e
		return nil
	})
	require.NoError(t, err)
	_, err = bus.On(a.Bus(), bus.TypeOf[events.StartupEvent](), func(_ context.Context, e events.StartupEvent) error {
		if e.Stage == events.StageReady {
			close(h.ready)
		}
		return nil
	})
	require.NoError(t, err)

	go func() { h.done <- a.Run(context.Background()) }()
	select {
	case <-h.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("app did not become ready")
	}
	return h
}

func (h *harness) send(t *testing.T, cmd, arg string) ipc.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := ipc.Send(ctx, h.app.cfg.IPC.Socket, ipc.Request{Cmd: cmd, Arg: arg})
	require.NoError(t, err)
	return resp
}

func (h *harness) next(t *testing.T) events.OutputRoutingEvent {
	t.Helper()
	select {
	case e := <-h.routed:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("nothing routed")
		return events.OutputRoutingEvent{}
	}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	resp := h.send(t, CmdStop, "")
	require.True(t, resp.OK, resp.Error)
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestConversationLoop(t *testing.T) {
	llm := &echoLLM{}
	h := start(t, testConfig(t), llm)
	b := h.app.Bus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, events.OutputAvailabilityEvent{Output: events.DestConsole, Available: true}))
	require.NoError(t, b.Post(ctx, events.UserInputEvent{Text: "hello", Input: events.InputConsole}))

	e := h.next(t)
	assert.Equal(t, events.DestConsole, e.Destination)
	assert.Contains(t, e.Text, "you said:")
	assert.Contains(t, e.Text, "hello")

	llm.mu.Lock()
	assert.Contains(t, llm.prompts[0], "Available outputs: [console]")
	llm.mu.Unlock()

	h.stop(t)

	logs, err := filepath.Glob(filepath.Join(h.app.cfg.Transcript.Dir, "log*.txt"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "system: "+config.DefaultPrompt))
	assert.Contains(t, string(data), "\nassistant: [console] you said:")
}

func TestControl(t *testing.T) {
	h := start(t, testConfig(t), &echoLLM{})
	ctx := context.Background()
	require.NoError(t, h.app.Bus().Publish(ctx, events.OutputAvailabilityEvent{Output: events.DestConsole, Available: true}))

	resp := h.send(t, CmdSay, "[console] straight out")
	require.True(t, resp.OK, resp.Error)
	e := h.next(t)
	assert.Equal(t, "straight out", e.Text)
	assert.Equal(t, events.DestConsole, e.Destination)

	resp = h.send(t, CmdStatus, "")
	require.True(t, resp.OK)
	assert.Contains(t, resp.Output, "outputs:  [console]")
	assert.Contains(t, resp.Output, "commands: stop sleep wake")

	resp = h.send(t, CmdDisable, "sleep")
	require.True(t, resp.OK)
	require.Eventually(t, func() bool {
		return strings.Contains(h.send(t, CmdStatus, "").Output, "commands: stop wake\n")
	}, time.Second, 10*time.Millisecond)

	for _, bad := range []ipc.Request{
		{Cmd: CmdTrigger},
		{Cmd: CmdTranscribe, Arg: "x.wav"},
		{Cmd: CmdSay},
		{Cmd: CmdEnable, Arg: "fly"},
		{Cmd: "dance"},
	} {
		resp := h.send(t, bad.Cmd, bad.Arg)
		assert.False(t, resp.OK, bad.Cmd)
		assert.NotEmpty(t, resp.Error, bad.Cmd)
	}

	h.stop(t)
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := testConfig(t)
	_, err := New(cfg, Deps{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
