// ABOUTME: End-to-end tests for the chat socket handler
// ABOUTME: Dials a real server and exercises handshake auth, fan-out, and error frames

package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litemessenger/chat-relay/internal/auth"
	"github.com/litemessenger/chat-relay/internal/avatars"
	"github.com/litemessenger/chat-relay/internal/chat"
	"github.com/litemessenger/chat-relay/internal/hub"
	"github.com/litemessenger/chat-relay/internal/store"
	"github.com/litemessenger/chat-relay/internal/user"
)

type testEnv struct {
	server   *httptest.Server
	hub      *hub.Hub
	chats    *chat.Service
	users    *user.Service
	verifier *auth.JWTVerifier
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	av, err := avatars.New(filepath.Join(dir, "avatars"))
	require.NoError(t, err)

	users := user.New(st, av, nil)
	chats := chat.New(st, users, nil)
	h := hub.New(nil)
	t.Cleanup(h.Shutdown)

	verifier := auth.NewJWTVerifier([]byte("test-secret"), time.Hour)
	handler := NewHandler(h, verifier, chats, nil, nil)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		hub:      h,
		chats:    chats,
		users:    users,
		verifier: verifier,
	}
}

// registerUser creates an account and returns its id.
func (e *testEnv) registerUser(t *testing.T, name, email string) string {
	t.Helper()
	profile, err := e.users.Register(context.Background(), name, email, "123456")
	require.NoError(t, err)
	return profile.ID
}

// dial opens a connection with the given raw token value.
func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.server.URL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// dialAs connects with a freshly minted token for the user and consumes
// the initial status frame.
func (e *testEnv) dialAs(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := e.verifier.Generate(userID)
	require.NoError(t, err)

	conn := e.dial(t, token)

	status := readFrame(t, conn)
	require.Equal(t, "status", status.Type)
	require.Equal(t, "connected", status.Message)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return &msg
}

// requireNoFrame asserts that nothing arrives within a short window. The
// read deadline tears the connection down, so this must be the last use
// of conn in a test.
func requireNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.Error(t, err, "unexpected frame: %s", data)
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func TestHandler_ConnectSendsStatusFrame(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")

	env.dialAs(t, alice)

	assert.Equal(t, 1, env.hub.Connections(alice))
}

func TestHandler_InvalidTokenRefused(t *testing.T) {
	env := setupTestEnv(t)

	conn := env.dial(t, "not-a-token")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestHandler_ExpiredTokenRefused(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")

	expired := auth.NewJWTVerifier([]byte("test-secret"), -time.Hour)
	token, err := expired.Generate(alice)
	require.NoError(t, err)

	conn := env.dial(t, token)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, readErr := conn.Read(ctx)
	require.Error(t, readErr)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(readErr))

	// A refused connection never enters the registry
	assert.False(t, env.hub.HasUser(alice))
}

func TestHandler_SendToRecipient_BothPartiesReceive(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")

	aliceConn := env.dialAs(t, alice)
	bobConn := env.dialAs(t, bob)

	send(t, aliceConn, `{"action":"send_message","recipientId":"`+bob+`","content":"hello"}`)

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		frame := readFrame(t, conn)
		require.Equal(t, "message", frame.Type)
		require.NotNil(t, frame.Payload)
		assert.Equal(t, "hello", frame.Payload.Content)
		assert.Equal(t, alice, frame.Payload.SenderID)
		assert.Equal(t, bob, frame.Payload.RecipientID)
		assert.Equal(t, "Alice Smith", frame.Payload.SenderName)
		assert.NotEmpty(t, frame.Payload.ID)
		assert.NotEmpty(t, frame.Payload.ChatID)
		assert.Positive(t, frame.Payload.Timestamp)
	}
}

func TestHandler_SecondSendReusesChat(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")

	aliceConn := env.dialAs(t, alice)
	bobConn := env.dialAs(t, bob)

	send(t, aliceConn, `{"action":"send_message","recipientId":"`+bob+`","content":"first"}`)
	first := readFrame(t, aliceConn)
	require.Equal(t, "message", first.Type)

	// Reply from the other side resolves to the same canonical chat
	send(t, bobConn, `{"action":"send_message","recipientId":"`+alice+`","content":"second"}`)
	second := readFrame(t, aliceConn)
	require.Equal(t, "message", second.Type)

	assert.Equal(t, first.Payload.ChatID, second.Payload.ChatID)
	assert.NotEqual(t, first.Payload.ID, second.Payload.ID)
	assert.GreaterOrEqual(t, second.Payload.Timestamp, first.Payload.Timestamp)
}

func TestHandler_SendToExistingChatID(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")

	existing, err := env.chats.EnsureChat(context.Background(), alice, bob)
	require.NoError(t, err)

	aliceConn := env.dialAs(t, alice)
	bobConn := env.dialAs(t, bob)

	send(t, aliceConn, `{"action":"send_message","chatId":"`+existing.ID+`","content":"hi bob"}`)

	frame := readFrame(t, bobConn)
	require.Equal(t, "message", frame.Type)
	assert.Equal(t, existing.ID, frame.Payload.ChatID)
	assert.Equal(t, "hi bob", frame.Payload.Content)
}

func TestHandler_MultiDeviceFanOut(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")

	aliceConn := env.dialAs(t, alice)
	bobPhone := env.dialAs(t, bob)
	bobLaptop := env.dialAs(t, bob)
	require.Equal(t, 2, env.hub.Connections(bob))

	send(t, aliceConn, `{"action":"send_message","recipientId":"`+bob+`","content":"ping"}`)

	for _, conn := range []*websocket.Conn{bobPhone, bobLaptop} {
		frame := readFrame(t, conn)
		require.Equal(t, "message", frame.Type)
		assert.Equal(t, "ping", frame.Payload.Content)
	}
}

func TestHandler_InvalidPayloadFrame(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	conn := env.dialAs(t, alice)

	send(t, conn, `this is not json`)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "Invalid payload", frame.Message)
}

func TestHandler_UnknownActionFrame(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	conn := env.dialAs(t, alice)

	send(t, conn, `{"action":"teleport"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "Unknown action teleport", frame.Message)
}

func TestHandler_RecipientRequiredFrame(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	conn := env.dialAs(t, alice)

	send(t, conn, `{"action":"send_message","content":"to nobody"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "Recipient required", frame.Message)
}

func TestHandler_SelfChatRejected(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	conn := env.dialAs(t, alice)

	send(t, conn, `{"action":"send_message","recipientId":"`+alice+`","content":"hi me"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "cannot start a chat with yourself", frame.Message)
}

func TestHandler_UnknownRecipientRejected(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	conn := env.dialAs(t, alice)

	send(t, conn, `{"action":"send_message","recipientId":"ghost","content":"hi"}`)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "user does not exist", frame.Message)
}

func TestHandler_EmptyMessageRejected(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")
	conn := env.dialAs(t, alice)

	send(t, conn, `{"action":"send_message","recipientId":"`+bob+`","content":"   "}`)

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "message cannot be empty", frame.Message)
}

func TestHandler_ErrorGoesToSenderOnly(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")

	aliceConn := env.dialAs(t, alice)
	bobConn := env.dialAs(t, bob)

	send(t, aliceConn, `{"action":"bogus"}`)

	frame := readFrame(t, aliceConn)
	assert.Equal(t, "error", frame.Type)
	requireNoFrame(t, bobConn)
}

func TestHandler_ConnectionSurvivesErrors(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")

	aliceConn := env.dialAs(t, alice)
	bobConn := env.dialAs(t, bob)

	send(t, aliceConn, `not json`)
	require.Equal(t, "error", readFrame(t, aliceConn).Type)

	send(t, aliceConn, `{"action":"vanish"}`)
	require.Equal(t, "error", readFrame(t, aliceConn).Type)

	// The same connection can still send normally
	send(t, aliceConn, `{"action":"send_message","recipientId":"`+bob+`","content":"still alive"}`)
	frame := readFrame(t, bobConn)
	require.Equal(t, "message", frame.Type)
	assert.Equal(t, "still alive", frame.Payload.Content)
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")

	conn := env.dialAs(t, alice)
	require.True(t, env.hub.HasUser(alice))

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.HasUser(alice) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, env.hub.HasUser(alice))
}

func TestHandler_MessagePersistsToHistory(t *testing.T) {
	env := setupTestEnv(t)
	alice := env.registerUser(t, "Alice Smith", "alice@example.com")
	bob := env.registerUser(t, "Bob Jones", "bob@example.com")

	aliceConn := env.dialAs(t, alice)

	send(t, aliceConn, `{"action":"send_message","recipientId":"`+bob+`","content":"for the record"}`)
	frame := readFrame(t, aliceConn)
	require.Equal(t, "message", frame.Type)

	history, err := env.chats.History(context.Background(), frame.Payload.ChatID, bob)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, frame.Payload.ID, history[0].ID)
	assert.Equal(t, "for the record", history[0].Content)
}
