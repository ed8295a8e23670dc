package ginserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	"marketplace/internal/app/handlers/catalog"
	"marketplace/internal/app/handlers/chat"
	"marketplace/internal/app/middleware"
	"marketplace/internal/app/queries"
	authsvc "marketplace/internal/app/services/auth"
	"marketplace/internal/infra/config"
	"marketplace/internal/infra/obs"
	"marketplace/internal/infra/security"
	"marketplace/internal/infra/storage/memory"
	"marketplace/internal/infra/validation"
)

type apiResponse struct {
	Success    bool                    `json:"success"`
	Data       json.RawMessage         `json:"data"`
	Message    string                  `json:"message"`
	Errors     []middleware.FieldError `json:"errors"`
	Pagination *dto.Pagination         `json:"pagination"`
}

func (r apiResponse) decode(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, out))
}

type memUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *memUploader) Upload(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return "https://cdn.example.com/" + key, nil
}

type apiHarness struct {
	t      *testing.T
	client *resty.Client
	tokens map[string]string
	ids    map[string]string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	users := memory.NewUserRepository()
	tokens, err := security.NewJWTIssuer("test-secret", "marketplace")
	require.NoError(t, err)
	identity := &authsvc.Service{
		Users:     users,
		Sessions:  memory.NewSessionStore(),
		Passwords: security.BcryptHasher{Cost: 4},
		Tokens:    tokens,
	}

	v := validation.New()
	cmdBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	items := memory.NewAnchorRepository()
	chat.Register(cmdBus, queryBus, chat.Deps{
		Conversations: memory.NewConversationRepository(),
		Messages:      memory.NewMessageRepository(),
		Anchors:       items,
		Users:         users,
	})
	catalog.Register(cmdBus, queryBus, catalog.Deps{Items: items, Uploader: &memUploader{}})

	cmds := middleware.ChainCommands(cmdBus,
		middleware.Validation(v),
		middleware.Authorization(middleware.RequireActor{}),
		middleware.Idempotency(memory.NewIdempotencyStore(0), nil),
	)
	qs := middleware.ChainQueries(queryBus,
		middleware.QueryValidation(v),
		middleware.QueryAuthorization(middleware.RequireActor{}),
	)

	router := NewRouter(config.Config{Env: "test"}, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Auth:           AuthHandler{Service: identity},
		Chat:           ChatHandler{Commands: cmds, Queries: qs},
		Catalog:        CatalogHandler{Commands: cmds, Queries: qs},
		AuthMiddleware: AuthMiddleware{Service: identity}.Handle,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	h := &apiHarness{
		t:      t,
		client: resty.New().SetBaseURL(srv.URL + "/api"),
		tokens: make(map[string]string),
		ids:    make(map[string]string),
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		res := h.do(http.MethodPost, "/auth/register", "", map[string]string{
			"email": name + "@example.com", "name": name, "password": "password123",
		})
		require.True(t, res.Success, res.Message)
		var auth dto.AuthResponse
		res.decode(t, &auth)
		h.tokens[name] = auth.Token
		h.ids[name] = auth.User.ID
	}
	return h
}

func (h *apiHarness) request(user string) *resty.Request {
	req := h.client.R()
	if user != "" {
		req.SetAuthToken(h.tokens[user])
	}
	return req
}

// do sends a JSON request as user and returns the decoded envelope.
func (h *apiHarness) do(method, path, user string, body any) apiResponse {
	res, _ := h.doStatus(method, path, user, body)
	return res
}

func (h *apiHarness) doStatus(method, path, user string, body any) (apiResponse, int) {
	h.t.Helper()
	req := h.request(user)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	require.NoError(h.t, err)
	var out apiResponse
	if len(resp.Body()) > 0 {
		require.NoError(h.t, json.Unmarshal(resp.Body(), &out), string(resp.Body()))
	}
	return out, resp.StatusCode()
}

func (h *apiHarness) createListing(owner, title string) dto.CatalogItem {
	h.t.Helper()
	res, status := h.doStatus(http.MethodPost, "/listings", owner, map[string]any{"title": title, "priceCents": 1000})
	require.Equal(h.t, http.StatusCreated, status, res.Message)
	var item dto.CatalogItem
	res.decode(h.t, &item)
	return item
}

func (h *apiHarness) startConversation(actor, listingID, other string) (dto.Conversation, int) {
	h.t.Helper()
	body := map[string]string{"listingId": listingID}
	if other != "" {
		body["otherUserId"] = h.ids[other]
	}
	res, status := h.doStatus(http.MethodPost, "/conversations", actor, body)
	var conv dto.Conversation
	if res.Success {
		res.decode(h.t, &conv)
	}
	return conv, status
}

func TestAuthEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	_, status := h.doStatus(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "name": "Again", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, status)

	res, status := h.doStatus(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "dave@example.com", "name": "Dave", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.Success)

	_, status = h.doStatus(http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, status)

	res, status = h.doStatus(http.MethodPost, "/auth/login", "", map[string]string{"email": "ALICE@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, status)
	var login dto.AuthResponse
	res.decode(t, &login)
	assert.Equal(t, h.ids["alice"], login.User.ID)

	res, status = h.doStatus(http.MethodGet, "/auth/me", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var me dto.UserProfile
	res.decode(t, &me)
	assert.Equal(t, "alice@example.com", me.Email)

	_, status = h.doStatus(http.MethodPost, "/auth/logout", "alice", nil)
	assert.Equal(t, http.StatusNoContent, status)
	res, status = h.doStatus(http.MethodGet, "/conversations", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "authentication required", res.Message)
}

func TestChatRoutesRequireAuthentication(t *testing.T) {
	h := newAPIHarness(t)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/conversations"},
		{http.MethodPost, "/conversations"},
		{http.MethodGet, "/conversations/x"},
		{http.MethodGet, "/conversations/x/messages"},
		{http.MethodPost, "/conversations/x/messages"},
		{http.MethodGet, "/conversations/unread/count"},
		{http.MethodGet, "/users/x/presence"},
		{http.MethodGet, "/listings"},
	} {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			res, status := h.doStatus(route.method, route.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.False(t, res.Success)
		})
	}
}

func TestConversationLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	bike := h.createListing("bob", "Bike")

	conv, status := h.startConversation("alice", bike.ID, "")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, bike.ID, conv.ListingID)
	assert.ElementsMatch(t, []string{h.ids["alice"], h.ids["bob"]}, conv.Participants)

	again, status := h.startConversation("bob", bike.ID, "alice")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, conv.ID, again.ID)

	for i := 1; i <= 3; i++ {
		res, status := h.doStatus(http.MethodPost, "/conversations/"+conv.ID+"/messages", "alice", map[string]string{"content": fmt.Sprintf(" m%d ", i)})
		require.Equal(t, http.StatusCreated, status, res.Message)
		var msg dto.Message
		res.decode(t, &msg)
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
		assert.False(t, msg.Read)
	}

	res := h.do(http.MethodGet, "/conversations/unread/count", "bob", nil)
	var unread dto.UnreadCount
	res.decode(t, &unread)
	assert.Equal(t, 3, unread.UnreadCount)

	res = h.do(http.MethodGet, "/conversations", "bob", nil)
	var list []dto.Conversation
	res.decode(t, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "m3", list[0].LastMessage.Content)

	res, status = h.doStatus(http.MethodGet, "/conversations/"+conv.ID+"/messages?page=1&limit=2", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var page []dto.Message
	res.decode(t, &page)
	require.Len(t, page, 2)
	assert.Equal(t, "m2", page[0].Content)
	assert.Equal(t, "m3", page[1].Content)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, dto.Pagination{Page: 1, Limit: 2, Total: 3, Pages: 2}, *res.Pagination)

	res = h.do(http.MethodGet, "/conversations/unread/count?conversationId="+conv.ID, "bob", nil)
	res.decode(t, &unread)
	assert.Equal(t, 0, unread.UnreadCount)
	assert.Equal(t, conv.ID, unread.ConversationID)
}

func TestChatErrorStatuses(t *testing.T) {
	h := newAPIHarness(t)
	bike := h.createListing("bob", "Bike")
	conv, status := h.startConversation("alice", bike.ID, "")
	require.Equal(t, http.StatusCreated, status)

	cases := []struct {
		name    string
		method  string
		path    string
		user    string
		body    any
		status  int
		message string
	}{
		{"self contact", http.MethodPost, "/conversations", "bob", map[string]string{"listingId": bike.ID}, http.StatusForbidden, "cannot start a conversation with yourself"},
		{"missing anchor", http.MethodPost, "/conversations", "alice", map[string]string{}, http.StatusBadRequest, "listingId or serviceId"},
		{"both anchors", http.MethodPost, "/conversations", "alice", map[string]string{"listingId": "a", "serviceId": "b"}, http.StatusBadRequest, "listingId or serviceId"},
		{"unknown anchor", http.MethodPost, "/conversations", "alice", map[string]string{"listingId": "nope"}, http.StatusNotFound, "item not found"},
		{"outsider read", http.MethodGet, "/conversations/" + conv.ID, "carol", nil, http.StatusForbidden, "not authorized"},
		{"outsider history", http.MethodGet, "/conversations/" + conv.ID + "/messages", "carol", nil, http.StatusForbidden, "not authorized"},
		{"outsider send", http.MethodPost, "/conversations/" + conv.ID + "/messages", "carol", map[string]string{"content": "hi"}, http.StatusForbidden, "not authorized"},
		{"missing conversation", http.MethodGet, "/conversations/missing", "alice", nil, http.StatusNotFound, "conversation not found"},
		{"empty content", http.MethodPost, "/conversations/" + conv.ID + "/messages", "alice", map[string]string{"content": "   "}, http.StatusBadRequest, "content is required"},
		{"long content", http.MethodPost, "/conversations/" + conv.ID + "/messages", "alice", map[string]string{"content": strings.Repeat("x", 2001)}, http.StatusBadRequest, "exceeds"},
		{"unknown presence", http.MethodGet, "/users/ghost/presence", "alice", nil, http.StatusNotFound, "user not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, status := h.doStatus(tc.method, tc.path, tc.user, tc.body)
			assert.Equal(t, tc.status, status)
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, tc.message)
		})
	}
}

func TestSendHonoursIdempotencyKey(t *testing.T) {
	h := newAPIHarness(t)
	bike := h.createListing("bob", "Bike")
	conv, _ := h.startConversation("alice", bike.ID, "")

	send := func() dto.Message {
		resp, err := h.request("alice").
			SetHeader("Idempotency-Key", "retry-1").
			SetBody(map[string]string{"content": "hello"}).
			Post("/conversations/" + conv.ID + "/messages")
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode())
		var out apiResponse
		require.NoError(t, json.Unmarshal(resp.Body(), &out))
		var msg dto.Message
		out.decode(t, &msg)
		return msg
	}
	first := send()
	second := send()
	assert.Equal(t, first.ID, second.ID)

	res := h.do(http.MethodGet, "/conversations/"+conv.ID+"/messages", "bob", nil)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, 1, res.Pagination.Total)
}

func TestExplicitMarkRead(t *testing.T) {
	h := newAPIHarness(t)
	bike := h.createListing("bob", "Bike")
	conv, _ := h.startConversation("alice", bike.ID, "")
	h.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", "alice", map[string]string{"content": "one"})
	h.do(http.MethodPost, "/conversations/"+conv.ID+"/messages", "alice", map[string]string{"content": "two"})

	res, status := h.doStatus(http.MethodPost, "/conversations/"+conv.ID+"/read", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var receipt dto.ReadReceipt
	res.decode(t, &receipt)
	assert.Equal(t, 2, receipt.Updated)
	assert.Equal(t, h.ids["bob"], receipt.ReadBy)

	res = h.do(http.MethodPost, "/conversations/"+conv.ID+"/read", "bob", nil)
	res.decode(t, &receipt)
	assert.Zero(t, receipt.Updated)

	res = h.do(http.MethodPost, "/conversations/"+conv.ID+"/read", "alice", nil)
	res.decode(t, &receipt)
	assert.Zero(t, receipt.Updated)
}

func TestCatalogEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	h.createListing("bob", "Bike")
	h.createListing("bob", "Tent")

	res, status := h.doStatus(http.MethodPost, "/services", "bob", map[string]any{"title": "", "priceCents": 10})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, res.Errors)

	res, status = h.doStatus(http.MethodGet, "/listings?limit=1", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var items []dto.CatalogItem
	res.decode(t, &items)
	require.Len(t, items, 1)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, 2, res.Pagination.Total)

	_, status = h.doStatus(http.MethodGet, "/services/"+items[0].ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)

	upload := func(user string) *resty.Response {
		resp, err := h.request(user).
			SetFileReader("image", "photo.png", strings.NewReader("png-bytes")).
			Post("/listings/" + items[0].ID + "/images")
		require.NoError(t, err)
		return resp
	}
	assert.Equal(t, http.StatusForbidden, upload("alice").StatusCode())

	resp := upload("bob")
	require.Equal(t, http.StatusOK, resp.StatusCode(), string(resp.Body()))
	var out apiResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &out))
	var item dto.CatalogItem
	out.decode(t, &item)
	require.Len(t, item.Images, 1)
	assert.True(t, strings.HasPrefix(item.Images[0], "https://cdn.example.com/listings/"+item.ID+"/"))
}

func TestPresenceEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	res, status := h.doStatus(http.MethodGet, "/users/"+h.ids["bob"]+"/presence", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var p dto.Presence
	res.decode(t, &p)
	assert.Equal(t, h.ids["bob"], p.UserID)
	assert.False(t, p.IsOnline)
	assert.Nil(t, p.LastSeen)
}

func TestHealthRoutes(t *testing.T) {
	router := NewRouter(config.Config{Env: "test"}, obs.Middleware{}, obs.HealthHandlers{}, Handlers{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "ok_metric 1\n") }),
	})
	for _, path := range []string{"/livez", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
