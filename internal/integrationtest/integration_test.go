package integrationtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/message-relay/internal/comms"
	"gitlab.com/dirk.krummacker/message-relay/internal/directory"
	"gitlab.com/dirk.krummacker/message-relay/internal/model"
	"gitlab.com/dirk.krummacker/message-relay/internal/relay"
	"gitlab.com/dirk.krummacker/message-relay/internal/service"
)

const (
	ownerPhone   = "+16135554444"
	ownerJID     = "user@gmail.com"
	ownerEmail   = "user@test.com"
	webhookToken = "gateway-secret"
)

// gateways fakes Twilio and the chat gateway on one HTTP server and records
// what the relay sends.
type gateways struct {
	mu          sync.Mutex
	ownerOnline bool
	sms         []url.Values
	chats       []map[string]string
	server      *httptest.Server
}

func newGateways(t *testing.T) *gateways {
	g := &gateways{}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/Messages.json"):
			r.ParseForm()
			g.sms = append(g.sms, r.PostForm)
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"sid": "SM1"}`)
		case r.URL.Path == "/chat/messages":
			var m map[string]string
			json.NewDecoder(r.Body).Decode(&m)
			g.chats = append(g.chats, m)
		case r.URL.Path == "/chat/presence":
			available := g.ownerOnline && r.URL.Query().Get("jid") == ownerJID
			fmt.Fprintf(w, `{"available": %t}`, available)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateways) setOnline(online bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ownerOnline = online
}

// snapshot returns what the relay has sent so far.
func (g *gateways) snapshot() ([]url.Values, []map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]url.Values(nil), g.sms...), append([]map[string]string(nil), g.chats...)
}

type mail struct{ from, to, subject, body string }

// mailbox is the SMTP side of the relay.
type mailbox struct {
	mu    sync.Mutex
	mails []mail
}

func (m *mailbox) SendEmail(_ context.Context, from, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mails = append(m.mails, mail{from, to, subject, body})
	return nil
}

// setupRelay wires the complete relay the way the service command does, with
// the outbound channels pointed at the fakes.
func setupRelay(t *testing.T) (*gin.Engine, *gateways, *mailbox) {
	g := newGateways(t)
	mb := &mailbox{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	channels := &comms.Service{
		SMS:    &comms.Twilio{BaseURL: g.server.URL, AccountSID: "AC1", AuthToken: "secret", Client: g.server.Client()},
		Mail:   mb,
		Chat:   &comms.HTTPChat{BaseURL: g.server.URL + "/chat", Client: g.server.Client()},
		Logger: logger,
	}
	chatID, email := ownerJID, ownerEmail
	owner := model.Owner{PhoneNumber: ownerPhone, ChatID: &chatID, Email: &email, LogCapacity: 50}
	contacts := directory.NewMemory()
	router := relay.NewRouter(owner, contacts, channels,
		relay.WithLogger(logger), relay.WithPresenceStore(contacts))
	gin.SetMode(gin.ReleaseMode)
	svc := service.New(router, contacts, channels,
		service.WithLogger(logger), service.WithRequestLogging(false), service.WithWebhookToken(webhookToken))
	return svc.SetupHttpRouter(), g, mb
}

func post(router *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request, _ := http.NewRequest("POST", path, strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Authorization", "Bearer "+webhookToken)
	router.ServeHTTP(recorder, request)
	return recorder
}

// TestContactHappyPath tests a POST, GET, PUT, and DELETE with valid data.
func TestContactHappyPath(t *testing.T) {
	router, _, _ := setupRelay(t)

	// test the endpoint for creating a contact
	postRecorder := httptest.NewRecorder()
	postRequest, _ := http.NewRequest("POST", "/contacts", strings.NewReader(`
		{
			"name": "Erika",
			"phone": "+49 815 4711 00"
		}
	`))
	router.ServeHTTP(postRecorder, postRequest)
	assert.Equal(t, http.StatusCreated, postRecorder.Code)
	var postBody map[string]interface{}
	json.Unmarshal(postRecorder.Body.Bytes(), &postBody)
	assert.Equal(t, "erika", postBody["name"])
	assert.Equal(t, "+49 815 4711 00", postBody["phone"])
	assert.Equal(t, false, postBody["subscribed"])
	idAsFloat64 := postBody["id"]
	idAsString := fmt.Sprintf("%.0f", idAsFloat64)

	// test the endpoint for finding a contact
	getRecorder := httptest.NewRecorder()
	getRequest, _ := http.NewRequest("GET", "/contacts/"+idAsString, nil)
	router.ServeHTTP(getRecorder, getRequest)
	assert.Equal(t, http.StatusOK, getRecorder.Code)
	var getBody map[string]interface{}
	json.Unmarshal(getRecorder.Body.Bytes(), &getBody)
	assert.Equal(t, idAsFloat64, getBody["id"])
	assert.Equal(t, "erika", getBody["name"])

	// test the endpoint for updating a contact
	putRecorder := httptest.NewRecorder()
	putRequest, _ := http.NewRequest("PUT", "/contacts/"+idAsString, strings.NewReader(`
		{
			"name": "Rudi",
			"phone": "+49 1234567890",
			"subscribed": true
		}
	`))
	router.ServeHTTP(putRecorder, putRequest)
	assert.Equal(t, http.StatusOK, putRecorder.Code)
	var putBody map[string]interface{}
	json.Unmarshal(putRecorder.Body.Bytes(), &putBody)
	assert.Equal(t, idAsFloat64, putBody["id"])
	assert.Equal(t, "rudi", putBody["name"])
	assert.Equal(t, "+49 1234567890", putBody["phone"])
	assert.Equal(t, true, putBody["subscribed"])

	// test if the contact is now found by its new number
	smsRecorder := post(router, "/sms", url.Values{"From": {"+491234567890"}, "To": {ownerPhone}, "Body": {"Hallo"}})
	assert.Equal(t, http.StatusOK, smsRecorder.Code)
	logRecorder := httptest.NewRecorder()
	logRequest, _ := http.NewRequest("GET", "/log", nil)
	router.ServeHTTP(logRecorder, logRequest)
	var logBody []map[string]interface{}
	json.Unmarshal(logRecorder.Body.Bytes(), &logBody)
	require.Len(t, logBody, 1)
	assert.Equal(t, "rudi", logBody[0]["counterparty"])

	// test the endpoint for deleting a contact
	deleteRecorder := httptest.NewRecorder()
	deleteRequest, _ := http.NewRequest("DELETE", "/contacts/"+idAsString, nil)
	router.ServeHTTP(deleteRecorder, deleteRequest)
	assert.Equal(t, http.StatusOK, deleteRecorder.Code)

	// test if a subsequent lookup of the contact fails
	getRecorder = httptest.NewRecorder()
	getRequest, _ = http.NewRequest("GET", "/contacts/"+idAsString, nil)
	router.ServeHTTP(getRecorder, getRequest)
	assert.Equal(t, http.StatusNotFound, getRecorder.Code)
}

// TestConversationWhileOnline relays an SMS to the owner's chat and the
// owner's reply back to the phone network.
func TestConversationWhileOnline(t *testing.T) {
	router, g, mb := setupRelay(t)
	g.setOnline(true)

	recorder := httptest.NewRecorder()
	request, _ := http.NewRequest("POST", "/contacts", strings.NewReader(
		`{"name": "Alice", "phone": "(613) 555-1234", "subscribed": true}`))
	router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusCreated, recorder.Code)

	recorder = post(router, "/sms", url.Values{"From": {"+16135551234"}, "To": {ownerPhone}, "Body": {"Lunch?"}})
	assert.Equal(t, http.StatusOK, recorder.Code)
	_, chats := g.snapshot()
	require.Len(t, chats, 1)
	assert.Equal(t, map[string]string{"from": "alice@relay.chat", "to": ownerJID, "body": "Lunch?"}, chats[0])
	assert.Empty(t, mb.mails)

	recorder = post(router, "/xmpp/message", url.Values{"from": {ownerJID + "/phone"}, "to": {"alice@relay.chat"}, "body": {"Sure"}})
	assert.Equal(t, http.StatusOK, recorder.Code)
	sms, _ := g.snapshot()
	require.Len(t, sms, 1)
	assert.Equal(t, ownerPhone, sms[0].Get("From"))
	assert.Equal(t, "+16135551234", sms[0].Get("To"))
	assert.Equal(t, "Sure", sms[0].Get("Body"))

	recorder = httptest.NewRecorder()
	request, _ = http.NewRequest("GET", "/log", nil)
	router.ServeHTTP(recorder, request)
	var entries []map[string]interface{}
	json.Unmarshal(recorder.Body.Bytes(), &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "to_owner", entries[0]["direction"])
	assert.Equal(t, "from_owner", entries[1]["direction"])
	assert.Equal(t, "alice", entries[1]["counterparty"])
}

// TestUnknownCallerWhileOffline expects a voicemail from an unknown number to
// reach the owner by email from the default sender, and a reply to that
// email to be sent to the number in the body.
func TestUnknownCallerWhileOffline(t *testing.T) {
	router, g, mb := setupRelay(t)

	recorder := post(router, "/recording", url.Values{
		"Caller":            {"+16135559999"},
		"TranscriptionText": {"Call me back"},
	})
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	require.Len(t, mb.mails, 1)
	assert.Equal(t, `"voicemail" <16135559999@relay.mail>`, mb.mails[0].from)
	assert.Equal(t, ownerEmail, mb.mails[0].to)
	assert.Equal(t, "(613)555-9999: New message from (613)555-9999: Call me back", mb.mails[0].subject)

	recorder = post(router, "/email", url.Values{
		"from":    {"User <" + ownerEmail + ">"},
		"to":      {"voicemail@relay.mail"},
		"subject": {"Re: voicemail"},
		"body":    {"6135559999: Will do"},
	})
	assert.Equal(t, http.StatusOK, recorder.Code)
	sms, _ := g.snapshot()
	require.Len(t, sms, 1)
	assert.Equal(t, "+16135559999", sms[0].Get("To"))
	assert.Equal(t, "Will do", sms[0].Get("Body"))
}

// TestStrangerCannotSend expects chat messages from anybody but the owner to
// be rejected without sending an SMS.
func TestStrangerCannotSend(t *testing.T) {
	router, g, _ := setupRelay(t)

	recorder := post(router, "/xmpp/message", url.Values{"from": {"mallory@gmail.com"}, "to": {"voicemail@relay.chat"}, "body": {"6135559999: spam"}})
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	sms, _ := g.snapshot()
	assert.Empty(t, sms)
}

// TestForgedOwnerChatRejected expects a chat message claiming to be from the
// owner to be rejected when it does not come through the gateway.
func TestForgedOwnerChatRejected(t *testing.T) {
	router, g, _ := setupRelay(t)

	recorder := httptest.NewRecorder()
	form := url.Values{"from": {ownerJID}, "to": {"voicemail@relay.chat"}, "body": {"6135559999: spam"}}
	request, _ := http.NewRequest("POST", "/xmpp/message", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	sms, _ := g.snapshot()
	assert.Empty(t, sms)
}
