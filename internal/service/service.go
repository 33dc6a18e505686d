package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gitlab.com/dirk.krummacker/message-relay/internal/directory"
	"gitlab.com/dirk.krummacker/message-relay/internal/model"
	"gitlab.com/dirk.krummacker/message-relay/internal/relay"
	api "gitlab.com/dirk.krummacker/message-relay/pkg/model"
)

// requestIDHeader carries the id that ties log lines to a request.
const requestIDHeader = "X-Request-ID"

// Directory is the contact store as used by the HTTP layer. On top of what the
// router needs, it offers the admin operations.
type Directory interface {
	relay.ContactDirectory
	GetByID(ctx context.Context, id int64) (*model.Contact, error)
	List(ctx context.Context) ([]model.Contact, error)
	Create(ctx context.Context, c *model.Contact) error
	Delete(ctx context.Context, id int64) error
	SetPresence(ctx context.Context, jid string, available bool) error
}

// Service is the HTTP boundary of the relay. It parses Twilio, chat and email
// webhooks, hands them to the router and answers the originating channel when
// an owner message cannot be delivered.
type Service struct {
	router     *relay.Router
	contacts   Directory
	comms      relay.Communications
	logger     *slog.Logger
	ginLogging bool
	accounts   gin.Accounts
	// webhookToken is the bearer token the chat server and the mail gateway
	// must present. Their webhooks are closed while it is empty.
	webhookToken string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for request and error logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRequestLogging turns logging of every request on or off.
func WithRequestLogging(on bool) Option {
	return func(s *Service) {
		s.ginLogging = on
	}
}

// WithAdminAccount protects the admin endpoints with HTTP basic auth.
func WithAdminAccount(user, password string) Option {
	return func(s *Service) {
		if user != "" {
			s.accounts = gin.Accounts{user: password}
		}
	}
}

// WithWebhookToken sets the bearer token that the chat server and the mail
// gateway send with every webhook.
func WithWebhookToken(token string) Option {
	return func(s *Service) {
		s.webhookToken = token
	}
}

// New creates the HTTP service.
func New(router *relay.Router, contacts Directory, comms relay.Communications, opts ...Option) *Service {
	s := &Service{
		router:     router,
		contacts:   contacts,
		comms:      comms,
		logger:     slog.Default(),
		ginLogging: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupHttpRouter initializes the REST API router and registers all endpoints.
func (s *Service) SetupHttpRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID())
	if s.ginLogging {
		router.Use(s.requestLogger())
	} else {
		s.logger.Info("Turning off HTTP request logging.")
	}

	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// Webhooks of the telephony provider.
	router.POST("/call", s.incomingCall)
	router.POST("/recording", s.incomingRecording)
	router.GET("/sms", s.incomingSMS)
	router.POST("/sms", s.incomingSMS)

	// Webhooks of the chat server and the mail gateway. They act in the name
	// of the owner, so the caller has to prove it is the gateway.
	gateway := router.Group("/", s.requireWebhookToken())
	gateway.POST("/xmpp/message", s.incomingChat)
	gateway.POST("/xmpp/presence/:state", s.chatPresence)
	gateway.POST("/xmpp/subscription/:type", s.chatSubscription)
	gateway.POST("/email", s.incomingEmail)

	admin := router.Group("/")
	if len(s.accounts) > 0 {
		admin.Use(gin.BasicAuth(s.accounts))
	}
	admin.GET("/contacts", s.findContacts)
	admin.POST("/contacts", s.createContact)
	admin.GET("/contacts/:id", s.findContactByID)
	admin.PUT("/contacts/:id", s.updateContactByID)
	admin.DELETE("/contacts/:id", s.deleteContactByID)
	admin.GET("/log", s.findLogEntries)
	admin.GET("/invite", s.sendInvites)
	admin.POST("/invite", s.sendInvites)
	return router
}

// requestID makes sure every request has an id and echoes it back.
func (s *Service) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// requireWebhookToken rejects requests without "Authorization: Bearer <token>".
func (s *Service) requireWebhookToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || s.webhookToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookToken)) != 1 {
			s.logger.Warn("rejected webhook without valid token",
				"path", c.Request.URL.Path, "remote", c.ClientIP(), "request_id", c.GetString("request_id"))
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid webhook token"})
			return
		}
		c.Next()
	}
}

func (s *Service) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("endpoint hit",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"remote_host", c.ClientIP(),
			"request_id", c.GetString("request_id"))
	}
}

// internalError logs err and answers with a 500.
func (s *Service) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", "error", err, "path", c.Request.URL.Path,
		"request_id", c.GetString("request_id"))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}

// formValue returns a parameter from the query string or the form body.
func formValue(c *gin.Context, key string) string {
	return c.Request.FormValue(key)
}

// bareJID strips the resource from a chat address.
func bareJID(jid string) string {
	bare, _, _ := strings.Cut(jid, "/")
	return bare
}

// incomingCall notifies the owner of a call and answers with TwiML that asks
// the caller to leave a message. The transcription is posted to /recording.
//
// Example REST API call:
//
//	> curl http://localhost:8080/call --data "From=%2B16135551234&CallStatus=ringing"
func (s *Service) incomingCall(c *gin.Context) {
	err := s.router.HandleIncomingCall(c.Request.Context(), formValue(c, "From"), formValue(c, "CallStatus"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.XML(http.StatusOK, voicemailPrompt("/recording"))
}

// incomingRecording notifies the owner of a voicemail.
//
// Example REST API call:
//
//	> curl http://localhost:8080/recording --data "Caller=%2B16135551234&TranscriptionText=Call+me&RecordingUrl=http://rec/1"
func (s *Service) incomingRecording(c *gin.Context) {
	delivered, err := s.router.HandleVoiceMail(c.Request.Context(),
		formValue(c, "Caller"), formValue(c, "TranscriptionText"), formValue(c, "RecordingUrl"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	if !delivered {
		s.logger.Warn("voicemail notification was not delivered", "caller", formValue(c, "Caller"))
	}
	c.Status(http.StatusNoContent)
}

// incomingSMS forwards an SMS to the owner and answers with empty TwiML, so
// that Twilio does not reply to the sender.
//
// Example REST API call:
//
//	> curl http://localhost:8080/sms --data "From=%2B16135551234&To=%2B16135554444&Body=Hello"
func (s *Service) incomingSMS(c *gin.Context) {
	err := s.router.HandleIncomingSMS(c.Request.Context(),
		formValue(c, "From"), formValue(c, "To"), formValue(c, "Body"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.XML(http.StatusOK, twimlResponse{})
}

// incomingChat sends a chat message of the owner as SMS. If the message is
// malformed, the error is sent back to the owner from the addressed identity.
//
// Example REST API call:
//
//	> curl http://localhost:8080/xmpp/message --data "from=user@gmail.com/phone&to=voicemail@relay.chat&body=6135551234:Hello"
func (s *Service) incomingChat(c *gin.Context) {
	ctx := c.Request.Context()
	sender := bareJID(formValue(c, "from"))
	to := bareJID(formValue(c, "to"))
	err := s.router.HandleIncomingChat(ctx, sender, to, formValue(c, "body"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "sent"})
	case relay.IsPermission(err):
		s.logger.Warn("rejected chat message", "from", sender, "error", err)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case relay.IsInvalidParameters(err):
		if replyErr := s.comms.SendChatMessage(ctx, to, sender, err.Error()); replyErr != nil {
			s.logger.Error("could not reply to chat message", "error", replyErr)
		}
		c.JSON(http.StatusOK, gin.H{"message": err.Error()})
	default:
		s.internalError(c, err)
	}
}

// chatPresence records whether the owner is online on chat. Presence of any
// other user is ignored.
func (s *Service) chatPresence(c *gin.Context) {
	state := c.Param("state")
	if state != "available" && state != "unavailable" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "invalid presence state"})
		return
	}
	jid := bareJID(formValue(c, "from"))
	owner := s.router.Owner()
	if !owner.ChatEnabled() || jid != *owner.ChatID {
		s.logger.Warn("got chat presence for unknown user", "jid", jid)
		c.JSON(http.StatusOK, gin.H{"message": "ignored"})
		return
	}
	available := state == "available"
	if err := s.contacts.SetPresence(c.Request.Context(), jid, available); err != nil {
		s.internalError(c, err)
		return
	}
	s.logger.Info("owner presence changed", "jid", jid, "available", available)
	c.JSON(http.StatusOK, gin.H{"message": "presence updated"})
}

func (s *Service) chatSubscription(c *gin.Context) {
	s.logger.Info("got chat subscription", "type", c.Param("type"), "from", bareJID(formValue(c, "from")))
	c.Status(http.StatusNoContent)
}

// incomingEmail sends an email of the owner as SMS. If the email is malformed,
// the error is returned to the owner as a bounce.
//
// Example REST API call:
//
//	> curl http://localhost:8080/email --data "from=user@test.com&to=mrtest@relay.mail&subject=Hi&body=Hello"
func (s *Service) incomingEmail(c *gin.Context) {
	ctx := c.Request.Context()
	sender := formValue(c, "from")
	to := formValue(c, "to")
	subject := formValue(c, "subject")
	err := s.router.HandleIncomingEmail(ctx, sender, to, subject, formValue(c, "body"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "sent"})
	case relay.IsPermission(err):
		s.logger.Warn("rejected email", "from", sender, "error", err)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case relay.IsInvalidParameters(err):
		if replyErr := s.comms.SendEmail(ctx, to, sender, "Re: "+subject, err.Error()); replyErr != nil {
			s.logger.Error("could not bounce email", "error", replyErr)
		}
		c.JSON(http.StatusOK, gin.H{"message": err.Error()})
	default:
		s.internalError(c, err)
	}
}

// sendInvites asks the owner to subscribe to the chat identities of all
// contacts, including the default sender.
//
// Example REST API call:
//
//	> curl http://localhost:8080/invite
func (s *Service) sendInvites(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.contacts.GetDefaultSender(ctx); err != nil {
		s.internalError(c, err)
		return
	}
	contacts, err := s.contacts.List(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}
	invited := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		err := s.router.SendChatInvite(ctx, contact.Name)
		if relay.IsPermission(err) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": err.Error()})
			return
		}
		if err != nil {
			s.internalError(c, err)
			return
		}
		invited = append(invited, s.router.ChatIdentity(contact.Name))
	}
	c.JSON(http.StatusOK, gin.H{"invited": invited})
}

// findLogEntries responds with the audit log, oldest entry first.
//
// Example REST API call:
//
//	> curl http://localhost:8080/log
func (s *Service) findLogEntries(c *gin.Context) {
	entries := s.router.Entries()
	out := make([]api.LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.LogEntry{
			Timestamp:    e.Timestamp,
			Direction:    e.Direction.String(),
			Counterparty: e.Counterparty,
			Body:         e.Body,
		})
	}
	c.IndentedJSON(http.StatusOK, out)
}

// toAPI converts a stored contact into its wire form.
func toAPI(c *model.Contact) api.Contact {
	return api.Contact{
		Id:              c.Id,
		Name:            c.Name,
		Phone:           c.Phone,
		Subscribed:      c.Subscribed,
		IsDefaultSender: c.IsDefaultSender(),
	}
}

// directoryError answers with the status that matches a directory error.
func (s *Service) directoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, directory.ErrInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, directory.ErrDuplicate), errors.Is(err, directory.ErrDefaultSender):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, directory.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
	default:
		s.internalError(c, err)
	}
}

// findContacts responds with the list of all contacts as JSON. The default
// sender is always part of the list.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts
func (s *Service) findContacts(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.contacts.GetDefaultSender(ctx); err != nil {
		s.internalError(c, err)
		return
	}
	contacts, err := s.contacts.List(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]api.Contact, 0, len(contacts))
	for i := range contacts {
		out = append(out, toAPI(&contacts[i]))
	}
	c.IndentedJSON(http.StatusOK, out)
}

// createContact stores the contact specified in the request's JSON. Name and
// phone are required; the name is stored in lower case.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts --request "POST" --include --header "Content-Type: application/json" --data '{"name": "mrtest", "phone": "(613) 555-1234"}'
func (s *Service) createContact(c *gin.Context) {
	var submitted api.ContactChanges
	if err := c.BindJSON(&submitted); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	if submitted.Name == nil || submitted.Phone == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "name and phone are required"})
		return
	}
	contact := model.Contact{Name: *submitted.Name, Phone: *submitted.Phone}
	if submitted.Subscribed != nil {
		contact.Subscribed = *submitted.Subscribed
	}
	if err := s.contacts.Create(c.Request.Context(), &contact); err != nil {
		s.directoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, toAPI(&contact))
}

// parseID reads the id parameter of the request URL. It answers with NOT FOUND
// if the id is not numeric.
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "invalid id parameter"})
		return 0, false
	}
	return id, true
}

// findContactByID locates the contact whose ID value matches the id parameter of the request URL,
// then returns that contact as a response.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/56
func (s *Service) findContactByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	contact, err := s.contacts.GetByID(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if contact == nil {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, toAPI(contact))
}

// updateContactByID updates the values specified in the JSON (and only those) of the contact
// whose ID matches the id parameter of the request URL, then responds with the new version of
// the contact. The phone number of the default sender cannot be changed.
//
// Example REST API calls:
//
//	> curl http://localhost:8080/contacts/56 --request "PUT" --include --header "Content-Type: application/json" --data '{"subscribed": true}'
//	> curl http://localhost:8080/contacts/56 --request "PUT" --include --header "Content-Type: application/json" --data '{"phone": "+420 123 456 789"}'
func (s *Service) updateContactByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var submitted api.ContactChanges
	if err := c.BindJSON(&submitted); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	// It only makes sense to continue if we have at least one value to update.
	if submitted.Name == nil && submitted.Phone == nil && submitted.Subscribed == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "no values to be updated"})
		return
	}

	ctx := c.Request.Context()
	contact, err := s.contacts.GetByID(ctx, id)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if contact == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
		return
	}
	if submitted.Name != nil {
		contact.Name = *submitted.Name
	}
	if submitted.Phone != nil {
		if contact.IsDefaultSender() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "the default sender has no phone number"})
			return
		}
		contact.Phone = *submitted.Phone
	}
	if submitted.Subscribed != nil {
		contact.Subscribed = *submitted.Subscribed
	}
	if err := s.contacts.Update(ctx, contact); err != nil {
		s.directoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, toAPI(contact))
}

// deleteContactByID deletes the contact whose ID value matches the id parameter of the request
// URL. Deleting the default sender is refused with CONFLICT.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/56 --request "DELETE"
func (s *Service) deleteContactByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.contacts.Delete(c.Request.Context(), id); err != nil {
		s.directoryError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"message": "contact deleted"})
}
