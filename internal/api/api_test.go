package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erazemk/shramba/internal/chat"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/notify"
	"github.com/erazemk/shramba/internal/store"
)

const testJWTSecret = "test-secret"

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// Response shapes for decoding. The handler types embed model.PantryItem,
// whose UnmarshalJSON would swallow the extra fields.
type testEntry struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Quantity model.Quantity `json:"quantity"`
	Unit     string         `json:"unit"`
	Status   string         `json:"status"`
	DaysLeft *int           `json:"daysLeft"`
}

type testItemResponse struct {
	Item  testEntry `json:"item"`
	Added []string  `json:"added"`
}

type testListResponse struct {
	Items []testEntry `json:"items"`
	Added []string    `json:"added"`
}

type testDashboard struct {
	Counters
	Expiring   []testEntry      `json:"expiring"`
	Permission model.Permission `json:"permission"`
}

func newTestServices(t *testing.T) *Services {
	t.Helper()
	database := db.NewTestDB(t)
	svc := NewServices(database, testJWTSecret, Options{
		ReminderInterval: time.Hour,
		CountersInterval: time.Hour,
		Now:              func() time.Time { return testNow },
	})
	t.Cleanup(svc.Hub.Close)
	return svc
}

func setupTestServer(t *testing.T) (*httptest.Server, *Services, string) {
	t.Helper()
	svc := newTestServices(t)
	server := httptest.NewServer(NewRouter(svc))
	t.Cleanup(server.Close)

	resp := doJSON(t, "POST", server.URL+"/api/auth/register", "", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register failed: %d", resp.StatusCode)
	}

	resp = doJSON(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var login loginResponse
	json.NewDecoder(resp.Body).Decode(&login)
	if login.Token == "" {
		t.Fatal("empty token from login")
	}
	return server, svc, login.Token
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	return doJSONFrom(t, method, url, token, "", body)
}

func doJSONFrom(t *testing.T, method, url, token, clientID string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if clientID != "" {
		req.Header.Set(ClientIDHeader, clientID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, resp, &body)
	return body["error"]
}

func TestRegisterAndLogin(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/auth/register", "", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "POST", server.URL+"/api/auth/register", "", map[string]string{
		"username": "bob",
		"password": "short",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != model.ErrPasswordTooShort.Error() {
		t.Errorf("unexpected error message %q", msg)
	}

	resp = doJSON(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "POST", server.URL+"/api/auth/register", "", map[string]string{
		"username": "bob smith",
		"password": "password123",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid username, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != model.ErrInvalidUsername.Error() {
		t.Errorf("unexpected error message %q", msg)
	}

	// Usernames are case-insensitive.
	resp = doJSON(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"username": " Alice",
		"password": "password123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for differently cased username, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", server.URL+"/api/auth/me", token, nil)
	var me model.User
	decodeBody(t, resp, &me)
	if me.Username != "alice" {
		t.Errorf("expected alice, got %q", me.Username)
	}
}

func TestLoginPreparesBuckets(t *testing.T) {
	svc := newTestServices(t)
	server := httptest.NewServer(NewRouter(svc))
	t.Cleanup(server.Close)

	resp := doJSON(t, "POST", server.URL+"/api/auth/register", "", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	var user model.User
	decodeBody(t, resp, &user)
	ns := store.Namespace(user.ID)

	// Data left behind under the legacy key by an older client.
	ctx := context.Background()
	svc.Items.Backend().Delete(ctx, ns, store.KeyPantry)
	svc.Items.Backend().Put(ctx, ns, store.LegacyKeyPantry, []byte(`[{"id":"1","name":"Rice","quantity":"2","unit":"kg"}]`))

	resp = doJSON(t, "POST", server.URL+"/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	resp.Body.Close()

	data, ok, _ := svc.Items.Backend().Get(ctx, ns, store.KeyPantry)
	if !ok || !strings.Contains(string(data), "Rice") {
		t.Errorf("expected legacy pantry to be migrated on login, got %s", data)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	server, _, _ := setupTestServer(t)

	resp, err := http.Get(server.URL + "/api/pantry")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/auth/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", server.URL+"/api/auth/me", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestPantryCreateValidation(t *testing.T) {
	server, svc, token := setupTestServer(t)

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{
			name: "missing expiration date",
			body: map[string]any{"name": "Milk", "quantity": 1, "unit": "liters"},
			want: "All fields are required except notes",
		},
		{
			name: "blank name",
			body: map[string]any{"name": "  ", "quantity": 1, "unit": "liters", "expirationDate": "2026-03-20"},
			want: "All fields are required except notes",
		},
		{
			name: "unknown unit",
			body: map[string]any{"name": "Milk", "quantity": 1, "unit": "gallons", "expirationDate": "2026-03-20"},
			want: "unit must be one of: " + strings.Join(model.Units, ", "),
		},
		{
			name: "bad date",
			body: map[string]any{"name": "Milk", "quantity": 1, "unit": "liters", "expirationDate": "20/03/2026"},
			want: "expirationDate must be a date (YYYY-MM-DD)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, "POST", server.URL+"/api/pantry", token, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
			if msg := errorMessage(t, resp); msg != tt.want {
				t.Errorf("expected %q, got %q", tt.want, msg)
			}
		})
	}

	user, _ := store.GetUserByUsername(context.Background(), svc.DB, "alice")
	pantry, _ := svc.Items.Pantry(context.Background(), store.Namespace(user.ID))
	if len(pantry) != 0 {
		t.Errorf("rejected items must not be stored, got %d", len(pantry))
	}
}

func TestPantryCreateAddsLowStockOnce(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/pantry", token, map[string]any{
		"name":           "Milk",
		"quantity":       2,
		"unit":           "liters",
		"expirationDate": "2026-03-12",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created testItemResponse
	decodeBody(t, resp, &created)
	if created.Item.Category != model.DefaultPantryCategory {
		t.Errorf("expected default category, got %q", created.Item.Category)
	}
	if len(created.Added) != 1 || created.Added[0] != "Milk" {
		t.Errorf("expected Milk to be added to shopping list, got %v", created.Added)
	}
	if created.Item.Status != "warning" || created.Item.DaysLeft == nil || *created.Item.DaysLeft != 2 {
		t.Errorf("unexpected status %q / %v", created.Item.Status, created.Item.DaysLeft)
	}

	resp = doJSON(t, "GET", server.URL+"/api/pantry", token, nil)
	var list testListResponse
	decodeBody(t, resp, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 pantry item, got %d", len(list.Items))
	}
	if len(list.Added) != 0 {
		t.Errorf("listing must not add Milk again, got %v", list.Added)
	}

	resp = doJSON(t, "GET", server.URL+"/api/shopping", token, nil)
	var shopping shoppingListResponse
	decodeBody(t, resp, &shopping)
	if len(shopping.Items) != 1 {
		t.Fatalf("expected 1 shopping item, got %d", len(shopping.Items))
	}
	got := shopping.Items[0]
	if !got.AutoAdded || got.Completed || got.Quantity != 1 || got.Unit != "liters" {
		t.Errorf("unexpected shopping item %+v", got)
	}
	if shopping.AutoAddedPending != 1 || shopping.Pending != 1 {
		t.Errorf("expected 1 pending auto-added item, got %d/%d", shopping.AutoAddedPending, shopping.Pending)
	}
}

func TestPantryUpdateChecksEditedItem(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/pantry", token, map[string]any{
		"name":           "Rice",
		"category":       "Grains & Cereals",
		"quantity":       10,
		"unit":           "kg",
		"expirationDate": "2026-09-01",
	})
	var created testItemResponse
	decodeBody(t, resp, &created)
	if len(created.Added) != 0 {
		t.Fatalf("10 kg is not low, got %v", created.Added)
	}

	resp = doJSON(t, "PUT", server.URL+"/api/pantry/"+created.Item.ID, token, map[string]any{"quantity": "3"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var updated testItemResponse
	decodeBody(t, resp, &updated)
	if updated.Item.Quantity != 3 || updated.Item.Category != "Grains & Cereals" {
		t.Errorf("unexpected item after update %+v", updated.Item)
	}
	if len(updated.Added) != 1 || updated.Added[0] != "Rice" {
		t.Errorf("expected Rice to be added, got %v", updated.Added)
	}

	resp = doJSON(t, "PUT", server.URL+"/api/pantry/missing", token, map[string]any{"quantity": 1})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown item, got %d", resp.StatusCode)
	}
}

func TestPantryDelete(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/pantry", token, map[string]any{
		"name":           "Beans",
		"quantity":       12,
		"unit":           "cans",
		"expirationDate": "2027-01-01",
	})
	var created testItemResponse
	decodeBody(t, resp, &created)

	resp = doJSON(t, "DELETE", server.URL+"/api/pantry/"+created.Item.ID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", server.URL+"/api/pantry/"+created.Item.ID, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestMalformedBucketsServeEmpty(t *testing.T) {
	server, svc, token := setupTestServer(t)

	resp := doJSON(t, "GET", server.URL+"/api/auth/me", token, nil)
	var me model.User
	decodeBody(t, resp, &me)
	ns := store.Namespace(me.ID)

	ctx := context.Background()
	svc.Items.Backend().Put(ctx, ns, store.KeyPantry, []byte("{not json"))
	svc.Items.Backend().Put(ctx, ns, store.KeyShopping, []byte("{not json"))

	resp = doJSON(t, "GET", server.URL+"/api/pantry", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for a malformed pantry, got %d", resp.StatusCode)
	}
	var list testListResponse
	decodeBody(t, resp, &list)
	if list.Items == nil || len(list.Items) != 0 {
		t.Errorf("expected an empty pantry, got %+v", list.Items)
	}

	resp = doJSON(t, "GET", server.URL+"/api/shopping", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for a malformed shopping list, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Writing replaces the malformed content.
	resp = doJSON(t, "POST", server.URL+"/api/pantry", token, map[string]any{
		"name":           "Rice",
		"quantity":       20,
		"unit":           "kg",
		"expirationDate": "2027-01-01",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on a malformed pantry, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "POST", server.URL+"/api/shopping", token, map[string]any{"name": "Salt"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on a malformed shopping list, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	pantry, err := svc.Items.Pantry(ctx, ns)
	if err != nil || len(pantry) != 1 || pantry[0].Name != "Rice" {
		t.Errorf("expected the pantry to hold Rice, got %+v (%v)", pantry, err)
	}
	shopping, err := svc.Items.Shopping(ctx, ns)
	if err != nil || len(shopping) != 1 || shopping[0].Name != "Salt" {
		t.Errorf("expected the shopping list to hold Salt, got %+v (%v)", shopping, err)
	}
}

func TestPantryPhoto(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/pantry", token, map[string]any{
		"name":           "Apples",
		"quantity":       6,
		"unit":           "pieces",
		"expirationDate": "2026-03-30",
	})
	var created testItemResponse
	decodeBody(t, resp, &created)

	img := image.NewRGBA(image.Rect(0, 0, 1024, 256))
	for x := 0; x < 1024; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("photo", "apples.png")
	png.Encode(part, img)
	mw.Close()

	url := server.URL + "/api/pantry/" + created.Item.ID + "/photo"
	req, _ := http.NewRequest("PUT", url, &body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var uploaded map[string]any
	decodeBody(t, resp, &uploaded)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, uploaded)
	}
	if uploaded["width"] != float64(512) || uploaded["height"] != float64(128) {
		t.Errorf("expected 512x128, got %vx%v", uploaded["width"], uploaded["height"])
	}

	resp = doJSON(t, "GET", url, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("expected JPEG photo, got %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp = doJSON(t, "DELETE", server.URL+"/api/pantry/"+created.Item.ID, token, nil)
	resp.Body.Close()
	resp = doJSON(t, "GET", url, token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected photo to be deleted with the item, got %d", resp.StatusCode)
	}
}

func TestShoppingFlow(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/shopping", token, map[string]any{"name": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if msg := errorMessage(t, resp); msg != "Item name is required" {
		t.Errorf("unexpected message %q", msg)
	}

	resp = doJSON(t, "POST", server.URL+"/api/shopping", token, map[string]any{"name": "Eggs"})
	var eggs model.ShoppingItem
	decodeBody(t, resp, &eggs)
	if eggs.Quantity != 1 || eggs.Unit != model.DefaultUnit || eggs.Category != model.DefaultShoppingCategory {
		t.Errorf("unexpected defaults %+v", eggs)
	}
	if eggs.Completed || eggs.AutoAdded {
		t.Errorf("manual item must be pending and not auto-added: %+v", eggs)
	}

	resp = doJSON(t, "POST", server.URL+"/api/shopping", token, map[string]any{"name": "Flour", "quantity": 2, "unit": "kg"})
	resp.Body.Close()

	resp = doJSON(t, "PUT", server.URL+"/api/shopping/"+eggs.ID+"/toggle", token, nil)
	var toggled model.ShoppingItem
	decodeBody(t, resp, &toggled)
	if !toggled.Completed {
		t.Error("expected eggs to be completed")
	}

	resp = doJSON(t, "DELETE", server.URL+"/api/shopping/completed", token, nil)
	var cleared map[string]int
	decodeBody(t, resp, &cleared)
	if cleared["removed"] != 1 {
		t.Errorf("expected 1 removed, got %d", cleared["removed"])
	}

	resp = doJSON(t, "GET", server.URL+"/api/shopping", token, nil)
	var list shoppingListResponse
	decodeBody(t, resp, &list)
	if len(list.Items) != 1 || list.Items[0].Name != "Flour" {
		t.Errorf("expected only Flour to remain, got %+v", list.Items)
	}
}

func TestDashboardCounters(t *testing.T) {
	server, _, token := setupTestServer(t)

	for _, item := range []map[string]any{
		{"name": "Yogurt", "quantity": 8, "unit": "pieces", "expirationDate": "2026-03-12"},
		{"name": "Pasta", "quantity": 8, "unit": "packages", "expirationDate": "2027-03-12"},
		{"name": "Cheese", "quantity": 8, "unit": "g", "expirationDate": "2026-03-01"},
	} {
		resp := doJSON(t, "POST", server.URL+"/api/pantry", token, item)
		resp.Body.Close()
	}
	resp := doJSON(t, "POST", server.URL+"/api/shopping", token, map[string]any{"name": "Bread"})
	resp.Body.Close()

	resp = doJSON(t, "GET", server.URL+"/api/dashboard", token, nil)
	var dash testDashboard
	decodeBody(t, resp, &dash)
	if dash.TotalItems != 3 || dash.ExpiringItems != 1 || dash.ShoppingPending != 1 {
		t.Errorf("unexpected counters %+v", dash.Counters)
	}
	if len(dash.Expiring) != 1 || dash.Expiring[0].Name != "Yogurt" || dash.Expiring[0].DaysLeft == nil || *dash.Expiring[0].DaysLeft != 2 {
		t.Errorf("unexpected expiring list %+v", dash.Expiring)
	}
	if dash.Permission != model.PermissionDefault {
		t.Errorf("expected default permission, got %q", dash.Permission)
	}
}

func TestSetPermission(t *testing.T) {
	server, svc, token := setupTestServer(t)

	resp := doJSON(t, "PUT", server.URL+"/api/notifications/permission", token, map[string]string{"permission": "maybe"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown state, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "PUT", server.URL+"/api/notifications/permission", token, map[string]string{"permission": "granted"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	user, _ := store.GetUserByUsername(context.Background(), svc.DB, "alice")
	perm, _ := svc.Items.Permission(context.Background(), store.Namespace(user.ID))
	if perm != model.PermissionGranted {
		t.Errorf("expected granted, got %q", perm)
	}
}

func TestChatWithoutAssistant(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "GET", server.URL+"/api/chat", token, nil)
	var history []model.ChatMessage
	decodeBody(t, resp, &history)
	if len(history) != 1 || history[0].ID != "welcome" || !strings.HasPrefix(history[0].Content, "Hii alice") {
		t.Errorf("unexpected welcome %+v", history)
	}

	resp = doJSON(t, "POST", server.URL+"/api/chat", token, map[string]string{"message": "What can I cook?"})
	var reply chatResponse
	decodeBody(t, resp, &reply)
	if reply.Reply.Content != chat.FallbackUnavailable {
		t.Errorf("expected fallback reply, got %q", reply.Reply.Content)
	}

	resp = doJSON(t, "DELETE", server.URL+"/api/chat", token, nil)
	decodeBody(t, resp, &history)
	if len(history) != 1 || history[0].ID != "welcome-new" {
		t.Errorf("expected a fresh conversation, got %+v", history)
	}
}

func TestAccountReset(t *testing.T) {
	server, _, token := setupTestServer(t)

	resp := doJSON(t, "POST", server.URL+"/api/shopping", token, map[string]any{"name": "Bread"})
	resp.Body.Close()

	resp = doJSON(t, "POST", server.URL+"/api/account/reset", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", server.URL+"/api/account/stats", token, nil)
	var stats store.Stats
	decodeBody(t, resp, &stats)
	if stats.Total != 0 {
		t.Errorf("expected no data after reset, got %+v", stats)
	}
}

type streamMessage struct {
	Type     string          `json:"type"`
	ClientID string          `json:"clientId"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Counters Counters        `json:"counters"`
	Title    string          `json:"title"`
}

func dialEvents(t *testing.T, server *httptest.Server, token string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing event stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	hello := readUntil(t, conn, func(m streamMessage) bool { return m.Type == TypeHello })
	if hello.ClientID == "" {
		t.Fatal("hello without client id")
	}
	return conn, hello.ClientID
}

// readUntil returns the first message matching match, failing on timeout.
// Messages read on the way are passed to skip when it is set.
func readUntil(t *testing.T, conn *websocket.Conn, match func(streamMessage) bool, skip ...func(streamMessage)) streamMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading event stream: %v", err)
		}
		var m streamMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decoding event %s: %v", data, err)
		}
		if match(m) {
			return m
		}
		for _, fn := range skip {
			fn(m)
		}
	}
}

func TestEventStreamRelaysToOtherTabs(t *testing.T) {
	server, _, token := setupTestServer(t)

	tabA, idA := dialEvents(t, server, token)
	tabB, _ := dialEvents(t, server, token)

	resp := doJSONFrom(t, "POST", server.URL+"/api/shopping", token, idA, map[string]any{"name": "Butter"})
	resp.Body.Close()

	got := readUntil(t, tabB, func(m streamMessage) bool { return m.Type == TypeBucket })
	if got.Key != store.KeyShopping || !strings.Contains(string(got.Value), "Butter") {
		t.Errorf("unexpected bucket event %+v", got)
	}

	// The originating tab gets the new counters but not its own change.
	readUntil(t, tabA,
		func(m streamMessage) bool { return m.Type == TypeCounters && m.Counters.ShoppingPending == 1 },
		func(m streamMessage) {
			if m.Type == TypeBucket {
				t.Errorf("origin tab received its own change: %+v", m)
			}
		},
	)
}

func TestEventStreamPromptsAndDeliversReminders(t *testing.T) {
	server, svc, token := setupTestServer(t)

	user, _ := store.GetUserByUsername(context.Background(), svc.DB, "alice")
	ns := store.Namespace(user.ID)
	svc.Items.SetPantry(context.Background(), ns, []model.PantryItem{{
		ID:             "yogurt",
		Name:           "Yogurt",
		Category:       "Dairy & Eggs",
		Quantity:       6,
		Unit:           "pieces",
		ExpirationDate: "2026-03-11",
		AddedAt:        testNow.Add(-72 * time.Hour),
	}})

	conn, _ := dialEvents(t, server, token)

	readUntil(t, conn, func(m streamMessage) bool { return m.Type == notify.TypePermissionRequest })
	answer, _ := json.Marshal(map[string]string{"type": TypePermission, "state": "granted"})
	if err := conn.WriteMessage(websocket.TextMessage, answer); err != nil {
		t.Fatalf("answering permission: %v", err)
	}

	got := readUntil(t, conn, func(m streamMessage) bool { return m.Type == notify.TypeNotification })
	if got.Title != "⏰ AnnaPurna Expiration Reminder" {
		t.Errorf("unexpected notification %+v", got)
	}

	perm, _ := svc.Items.Permission(context.Background(), ns)
	if perm != model.PermissionGranted {
		t.Errorf("expected answer to be stored, got %q", perm)
	}
}

func TestEventStreamRejectsBadToken(t *testing.T) {
	server, _, _ := setupTestServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/events?token=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", resp)
	}
}

func TestMailAddresses(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, svc.DB, "alice", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	lookup := MailAddresses(svc.DB)

	if _, ok := lookup(ctx, store.Namespace(user.ID)); ok {
		t.Error("expected no address before one is set")
	}
	store.SetUserEmail(ctx, svc.DB, user.ID, "alice@example.com")
	if addr, ok := lookup(ctx, store.Namespace(user.ID)); !ok || addr != "alice@example.com" {
		t.Errorf("expected alice@example.com, got %q %v", addr, ok)
	}
	if _, ok := lookup(ctx, "not-a-user"); ok {
		t.Error("expected unknown namespace to have no address")
	}
}

func TestSweep(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	for _, ns := range []string{"user:1", "user:2"} {
		svc.Items.SetReminderLog(ctx, ns, []model.ReminderEntry{
			{ItemID: "old", ExpirationDate: "2026-01-01", LastReminderDate: testNow.AddDate(0, 0, -40)},
			{ItemID: "new", ExpirationDate: "2026-03-11", LastReminderDate: testNow.AddDate(0, 0, -1)},
		})
	}

	store.RevokeToken(ctx, svc.DB, "old-token", testNow.Add(-time.Hour))

	res := svc.Sweep(ctx)
	if res.ReminderEntries != 2 || res.RevokedTokens != 1 {
		t.Errorf("unexpected sweep result %+v", res)
	}
	if last, _ := store.GetSetting(ctx, svc.DB, store.SettingLastSweep); last != testNow.Format(time.RFC3339) {
		t.Errorf("expected sweep time to be recorded, got %q", last)
	}
	log, _ := svc.Items.ReminderLog(ctx, "user:1")
	if len(log) != 1 || log[0].ItemID != "new" {
		t.Errorf("unexpected log after cleanup %+v", log)
	}
}
